package greed

import (
	"encoding/csv"
	"math/big"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// LoadProject reads the decompiler's fact files from targetDir and builds
// the program index over them. The fact files are tab-separated relations
// emitted per contract: one statement per TAC_Op row, grouped into blocks
// by TAC_Block and into functions by InFunction.
//
// Loading fails on a statement whose operation is not recognized; loading
// must not defer that to execution time.
func LoadProject(targetDir string) (*Project, error) {
	blockFunc, err := loadFactMap(targetDir, "InFunction.csv")
	if err != nil {
		return nil, err
	}
	funcBlocks, err := loadFactMultimapReverse(targetDir, "InFunction.csv")
	if err != nil {
		return nil, err
	}
	blockStmts, err := loadFactMultimapReverse(targetDir, "TAC_Block.csv")
	if err != nil {
		return nil, err
	}
	stmtOp, err := loadFactMap(targetDir, "TAC_Op.csv")
	if err != nil {
		return nil, err
	}

	values, err := loadVariableValues(targetDir)
	if err != nil {
		return nil, err
	}
	stmtDefs, err := loadPositionalVars(targetDir, "TAC_Def.csv")
	if err != nil {
		return nil, err
	}
	stmtUses, err := loadPositionalVars(targetDir, "TAC_Use.csv")
	if err != nil {
		return nil, err
	}

	// Build every statement, block by block, in pc order. Empty blocks get
	// an injected NOP so every block has a first statement.
	statements := make(map[string]*Statement)
	for _, blockIDs := range funcBlocks {
		for _, blockID := range blockIDs {
			stmtIDs := sortedStatementIDs(blockStmts[blockID])
			for _, stmtID := range stmtIDs {
				stmt, err := buildStatement(stmtID, blockID, stmtOp, stmtUses, stmtDefs, values)
				if err != nil {
					return nil, err
				}
				statements[stmtID] = stmt
			}
			if len(stmtIDs) == 0 {
				id := blockID + "_fake_stmt"
				statements[id] = &Statement{Opcode: OpNop, ID: id, BlockID: blockID}
			}
		}
	}

	// A synthetic exit statement backs private calls without a known
	// return location.
	statements[FakeExitBlockID] = &Statement{Opcode: OpStop, ID: FakeExitBlockID, BlockID: FakeExitBlockID}

	// The decompiler leaves PHI statements behind; collapse them into a
	// variable alias map and rewrite every statement through it.
	phimap := buildPhiMap(statements)
	for id, stmt := range statements {
		if stmt.Opcode == OpPhi {
			statements[id] = &Statement{Opcode: OpNop, ID: stmt.ID, BlockID: stmt.BlockID}
			continue
		}
		rewriteStatement(stmt, phimap)
	}

	// Assemble blocks over the parsed statements.
	blocks := make(map[string]*Block)
	for _, blockIDs := range funcBlocks {
		for _, blockID := range blockIDs {
			stmtIDs := sortedStatementIDs(blockStmts[blockID])
			if len(stmtIDs) == 0 {
				stmtIDs = []string{blockID + "_fake_stmt"}
			}
			stmts := make([]*Statement, len(stmtIDs))
			for i, stmtID := range stmtIDs {
				stmts[i] = statements[stmtID]
			}
			blocks[blockID] = &Block{ID: blockID, Statements: stmts}
		}
	}
	blocks[FakeExitBlockID] = &Block{
		ID:         FakeExitBlockID,
		Statements: []*Statement{statements[FakeExitBlockID]},
	}

	fallthroughEdge, err := loadFactMap(targetDir, "IRFallthroughEdge.csv")
	if err != nil {
		return nil, err
	}
	for blockID, nextID := range fallthroughEdge {
		block, next := blocks[blockID], blocks[nextID]
		if block == nil || next == nil {
			log.Warnf("fallthrough edge over unknown block: %s -> %s", blockID, nextID)
			continue
		}
		block.FallthroughEdge = next
	}

	blockSucc, err := loadFactMultimap(targetDir, "LocalBlockEdge.csv")
	if err != nil {
		return nil, err
	}
	for blockID, succIDs := range blockSucc {
		block := blocks[blockID]
		if block == nil {
			continue
		}
		for _, succID := range succIDs {
			if succ := blocks[succID]; succ != nil {
				block.Succ = append(block.Succ, succ)
			}
		}
	}

	functions, err := loadFunctions(targetDir, blocks, blockFunc, funcBlocks, phimap)
	if err != nil {
		return nil, err
	}

	return NewProject(blocks, functions, statements), nil
}

func loadFunctions(targetDir string, blocks map[string]*Block, blockFunc map[string]string, funcBlocks map[string][]string, phimap map[string]string) (map[string]*Function, error) {
	entries, err := loadFacts(targetDir, "IRFunctionEntry.csv")
	if err != nil {
		return nil, err
	}
	publicSig, err := loadFactMap(targetDir, "PublicFunction.csv")
	if err != nil {
		return nil, err
	}
	highLevelName, err := loadFactMap(targetDir, "HighLevelFunctionName.csv")
	if err != nil {
		return nil, err
	}
	formalArgs, err := loadPositionalVars(targetDir, "FormalArgs.csv")
	if err != nil {
		return nil, err
	}

	functions := make(map[string]*Function)
	for _, row := range entries {
		entryBlockID := row[0]
		funcID, ok := blockFunc[entryBlockID]
		if !ok {
			return nil, errors.Errorf("greed: entry block %s belongs to no function", entryBlockID)
		}

		sig, isPublic := publicSig[funcID]
		isPublic = isPublic || funcID == "0x0"
		isFallback := sig == "0x0"
		if sig != "" {
			sig = padSignature(sig)
		}

		name := highLevelName[funcID]
		if isFallback {
			name = "fallback()"
		}

		var formals []string
		for _, arg := range formalArgs[funcID] {
			v := renameVar(arg)
			if alias, ok := phimap[v]; ok {
				v = alias
			}
			formals = append(formals, v)
		}

		fn := &Function{
			ID:        funcID,
			Name:      name,
			Signature: sig,
			IsPublic:  isPublic,
			Arguments: formals,
			Entry:     blocks[entryBlockID],
		}
		if fn.Entry == nil {
			return nil, errors.Errorf("greed: function %s has unknown entry block %s", funcID, entryBlockID)
		}
		for _, blockID := range funcBlocks[funcID] {
			block := blocks[blockID]
			block.Function = fn
			fn.Blocks = append(fn.Blocks, block)
		}
		functions[funcID] = fn
	}
	return functions, nil
}

func buildStatement(stmtID, blockID string, stmtOp map[string]string, stmtUses, stmtDefs map[string][]string, values map[string]*ConstantExpr) (*Statement, error) {
	opName, ok := stmtOp[stmtID]
	if !ok {
		return nil, errors.Errorf("greed: statement %s has no operation fact", stmtID)
	}
	opcode, err := ParseOpcode(opName)
	if err != nil {
		return nil, errors.Wrapf(err, "statement %s", stmtID)
	}

	stmt := &Statement{
		Opcode:  opcode,
		ID:      stmtID,
		BlockID: blockID,
		ArgVals: make(map[string]*ConstantExpr),
		ResVals: make(map[string]*ConstantExpr),
	}
	for _, v := range stmtUses[stmtID] {
		v = renameVar(v)
		stmt.ArgVars = append(stmt.ArgVars, v)
		if val, ok := values[v]; ok {
			stmt.ArgVals[v] = val
		}
	}
	for _, v := range stmtDefs[stmtID] {
		v = renameVar(v)
		stmt.ResVars = append(stmt.ResVars, v)
		if val, ok := values[v]; ok {
			stmt.ResVals[v] = val
		}
	}
	return stmt, nil
}

// buildPhiMap collapses chains of PHI statements into a map from each PHI
// operand to the variable that ultimately carries its value, the same way
// the decompiler resolves them.
func buildPhiMap(statements map[string]*Statement) map[string]string {
	phimap := make(map[string]string)
	for _, id := range sortedKeys(statements) {
		stmt := statements[id]
		if stmt.Opcode != OpPhi || len(stmt.ResVars) == 0 {
			continue
		}
		res := stmt.ResVars[0]
		for _, v := range stmt.ArgVars {
			if alias, ok := phimap[v]; ok {
				phimap[res] = alias
				continue
			}
			phimap[v] = res
		}
	}

	// Propagate aliases of aliases until nothing moves.
	for {
		fixpoint := true
		for vOld, vNew := range phimap {
			if alias, ok := phimap[vNew]; ok && phimap[vOld] != alias {
				phimap[vOld] = alias
				fixpoint = false
			}
		}
		if fixpoint {
			return phimap
		}
	}
}

func rewriteStatement(stmt *Statement, phimap map[string]string) {
	rewrite := func(v string) string {
		if alias, ok := phimap[v]; ok {
			return alias
		}
		return v
	}
	for i, v := range stmt.ArgVars {
		stmt.ArgVars[i] = rewrite(v)
	}
	for i, v := range stmt.ResVars {
		stmt.ResVars[i] = rewrite(v)
	}
	for _, vals := range []map[string]*ConstantExpr{stmt.ArgVals, stmt.ResVals} {
		for v, val := range vals {
			if alias, ok := phimap[v]; ok {
				delete(vals, v)
				vals[alias] = val
			}
		}
	}
}

// renameVar converts the decompiler's variable identifiers to register
// names ("0x1a" becomes "v1a").
func renameVar(v string) string {
	return "v" + strings.ReplaceAll(v, "0x", "")
}

// padSignature zero-pads a public function selector to four bytes.
func padSignature(sig string) string {
	hex := strings.TrimPrefix(sig, "0x")
	for len(hex) < 8 {
		hex = "0" + hex
	}
	return "0x" + hex
}

// stmtSortKey orders statement ids by their program-counter component:
// the hex digits after "0x", up to the first underscore.
func stmtSortKey(stmtID string) uint64 {
	s := stmtID
	if i := strings.Index(s, "0x"); i >= 0 {
		s = s[i+2:]
	}
	if i := strings.IndexByte(s, '_'); i >= 0 {
		s = s[:i]
	}
	key, err := strconv.ParseUint(s, 16, 64)
	if err != nil {
		return 0
	}
	return key
}

func sortedStatementIDs(stmtIDs []string) []string {
	sorted := make([]string, len(stmtIDs))
	copy(sorted, stmtIDs)
	sort.SliceStable(sorted, func(i, j int) bool {
		return stmtSortKey(sorted[i]) < stmtSortKey(sorted[j])
	})
	return sorted
}

func sortedKeys(statements map[string]*Statement) []string {
	keys := make([]string, 0, len(statements))
	for id := range statements {
		keys = append(keys, id)
	}
	sort.Strings(keys)
	return keys
}

// loadVariableValues reads the constant-value facts, keyed by renamed
// variable. Values the decompiler could not express as a 256-bit constant
// are skipped with a warning.
func loadVariableValues(targetDir string) (map[string]*ConstantExpr, error) {
	rows, err := loadFacts(targetDir, "TAC_Variable_Value.csv")
	if err != nil {
		return nil, err
	}
	values := make(map[string]*ConstantExpr)
	for _, row := range rows {
		if len(row) < 2 {
			continue
		}
		v, raw := renameVar(row[0]), row[1]
		value, ok := new(big.Int).SetString(strings.TrimPrefix(raw, "0x"), 16)
		if !ok {
			log.Warnf("skipping unparsable value for %s: %q", v, raw)
			continue
		}
		values[v] = NewConstantExpr(value, Width256)
	}
	return values, nil
}

// loadPositionalVars reads a (key, var, position) relation and returns the
// vars per key in positional order.
func loadPositionalVars(targetDir, name string) (map[string][]string, error) {
	rows, err := loadFacts(targetDir, name)
	if err != nil {
		return nil, err
	}

	type posVar struct {
		v   string
		pos int
	}
	byKey := make(map[string][]posVar)
	for _, row := range rows {
		if len(row) < 3 {
			continue
		}
		pos, err := strconv.Atoi(row[2])
		if err != nil {
			return nil, errors.Wrapf(err, "%s: bad position for %s", name, row[0])
		}
		byKey[row[0]] = append(byKey[row[0]], posVar{v: row[1], pos: pos})
	}

	m := make(map[string][]string, len(byKey))
	for key, vars := range byKey {
		sort.SliceStable(vars, func(i, j int) bool { return vars[i].pos < vars[j].pos })
		for _, pv := range vars {
			m[key] = append(m[key], pv.v)
		}
	}
	return m, nil
}

func loadFactMap(targetDir, name string) (map[string]string, error) {
	rows, err := loadFacts(targetDir, name)
	if err != nil {
		return nil, err
	}
	m := make(map[string]string, len(rows))
	for _, row := range rows {
		if len(row) >= 2 {
			m[row[0]] = row[1]
		}
	}
	return m, nil
}

func loadFactMultimap(targetDir, name string) (map[string][]string, error) {
	rows, err := loadFacts(targetDir, name)
	if err != nil {
		return nil, err
	}
	m := make(map[string][]string)
	for _, row := range rows {
		if len(row) >= 2 {
			m[row[0]] = append(m[row[0]], row[1])
		}
	}
	return m, nil
}

func loadFactMultimapReverse(targetDir, name string) (map[string][]string, error) {
	rows, err := loadFacts(targetDir, name)
	if err != nil {
		return nil, err
	}
	m := make(map[string][]string)
	for _, row := range rows {
		if len(row) >= 2 {
			m[row[1]] = append(m[row[1]], row[0])
		}
	}
	return m, nil
}

// loadFacts reads one tab-separated fact file. A missing file is treated
// as an empty relation since the decompiler omits files with no facts.
func loadFacts(targetDir, name string) ([][]string, error) {
	f, err := os.Open(filepath.Join(targetDir, name))
	if os.IsNotExist(err) {
		return nil, nil
	} else if err != nil {
		return nil, errors.Wrapf(err, "cannot open fact file %s", name)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.Comma = '\t'
	r.FieldsPerRecord = -1
	r.LazyQuotes = true
	rows, err := r.ReadAll()
	if err != nil {
		return nil, errors.Wrapf(err, "cannot read fact file %s", name)
	}
	return rows, nil
}
