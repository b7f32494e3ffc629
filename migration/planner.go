package migration

import (
	"crypto/sha256"
	"fmt"
	"sort"
	"time"

	"github.com/rediwo/redi-migrate/dialect"
	"github.com/rediwo/redi-migrate/schema"
)

// Phase order: destructive prerequisites first, renames last. Renames are
// non-destructive and must not shift names out from under the structural
// steps that assumed the original ones.
const (
	phaseDropConstraints = iota + 1 // drop FKs and indexes on doomed objects
	phaseDrops                      // drop tables, columns, enums
	phaseCreateEnums
	phaseCreateTables
	phaseAlterColumns // add/alter columns, alter enums
	phaseCreateIndexes
	phaseAddForeignKeys
	phaseRenames
)

func phaseOf(c SchemaChange) int {
	switch c.Type {
	case ChangeTypeDropFK, ChangeTypeDropIndex:
		return phaseDropConstraints
	case ChangeTypeDropTable, ChangeTypeDropColumn, ChangeTypeDropEnum:
		return phaseDrops
	case ChangeTypeCreateEnum:
		return phaseCreateEnums
	case ChangeTypeCreateTable:
		return phaseCreateTables
	case ChangeTypeAddColumn, ChangeTypeAlterColumn, ChangeTypeAlterEnum:
		return phaseAlterColumns
	case ChangeTypeCreateIndex:
		return phaseCreateIndexes
	case ChangeTypeAddFK:
		return phaseAddForeignKeys
	default:
		return phaseRenames
	}
}

// NewPlan converts a structural delta into an ordered, fully rendered
// migration plan for one dialect. Planning is pure: identical inputs yield
// byte-identical step SQL. A capability the dialect lacks and no rewrite
// rule covers fails with UnsupportedChangeError, never approximate SQL.
func NewPlan(name string, delta *StructuralDelta, desc *dialect.Descriptor) (*Plan, error) {
	ordered := orderChanges(delta.Changes, desc)

	r := &renderer{desc: desc, desired: delta.Desired}
	groups := redefineGroups(ordered, delta, desc)
	tr := buildRenameTranslation(ordered)

	plan := &Plan{
		Name:      name,
		CreatedAt: time.Now().UTC(),
		State:     StateDrafted,
	}

	createdTables := make(map[string]bool)
	for _, c := range ordered {
		if c.Type == ChangeTypeCreateTable {
			createdTables[c.Table] = true
		}
	}

	redefined := make(map[string]bool)
	appendStep := func(c SchemaChange, step rendered) {
		plan.Steps = append(plan.Steps, Step{
			ID:              len(plan.Steps) + 1,
			SQL:             step.sql,
			Change:          c,
			Destructiveness: step.destructiveness,
		})
	}
	emitRedefine := func(group *redefineGroup) error {
		if redefined[group.table.Name] {
			return nil
		}
		redefined[group.table.Name] = true
		steps, err := r.redefineTable(group)
		if err != nil {
			return err
		}
		for _, s := range steps {
			appendStep(group.trigger, s)
		}
		return nil
	}

	for _, c := range ordered {
		// Dialects without ALTER TABLE ADD FOREIGN KEY get the keys of
		// freshly created tables rendered inline in CREATE TABLE.
		if c.Type == ChangeTypeAddFK && !desc.SupportsAlterForeignKey && createdTables[c.Table] {
			continue
		}

		// CHECK-encoded enums live inside table definitions: changing the
		// variant set rebuilds every table using the enum.
		if c.Type == ChangeTypeAlterEnum && desc.EnumStyle == dialect.EnumCheck {
			for _, ref := range r.enumColumnRefs(c.Enum.Name) {
				group := groups[ref.Table.Name]
				if group == nil {
					continue
				}
				if err := emitRedefine(group); err != nil {
					return nil, err
				}
			}
			continue
		}

		if group := findGroup(groups, c); group != nil {
			if redefined[group.table.Name] {
				continue // absorbed into the table's redefine sequence
			}
			if err := emitRedefine(group); err != nil {
				return nil, err
			}
			continue
		}

		steps, err := renderChange(r, tr.apply(c))
		if err != nil {
			return nil, err
		}
		for _, s := range steps {
			appendStep(c, s)
		}
	}

	plan.Checksum = checksumScript(plan.Script())
	return plan, nil
}

func renderChange(r *renderer, c SchemaChange) ([]rendered, error) {
	switch c.Type {
	case ChangeTypeCreateTable:
		sql, err := r.createTable(c.TargetTable)
		if err != nil {
			return nil, wrapUnsupported(c, err)
		}
		return []rendered{{sql: sql, destructiveness: Safe}}, nil

	case ChangeTypeDropTable:
		return []rendered{{
			sql:             "DROP TABLE " + r.desc.QuoteIdent(c.Table),
			destructiveness: Destructive,
		}}, nil

	case ChangeTypeRenameTable:
		return []rendered{{
			sql:             r.desc.RenameTableSQL(c.Table, c.NewName),
			destructiveness: Safe,
		}}, nil

	case ChangeTypeAddColumn:
		s, err := r.addColumn(c)
		if err != nil {
			return nil, wrapUnsupported(c, err)
		}
		return []rendered{s}, nil

	case ChangeTypeDropColumn:
		s, err := r.dropColumn(c)
		if err != nil {
			return nil, err
		}
		return []rendered{s}, nil

	case ChangeTypeAlterColumn:
		return r.alterColumn(c)

	case ChangeTypeRenameColumn:
		s, err := r.renameColumn(c)
		if err != nil {
			return nil, err
		}
		return []rendered{s}, nil

	case ChangeTypeCreateIndex:
		return []rendered{r.createIndex(c)}, nil

	case ChangeTypeDropIndex:
		return []rendered{r.dropIndex(c)}, nil

	case ChangeTypeAddFK:
		s, err := r.addForeignKey(c)
		if err != nil {
			return nil, err
		}
		return []rendered{s}, nil

	case ChangeTypeDropFK:
		s, err := r.dropForeignKey(c)
		if err != nil {
			return nil, err
		}
		return []rendered{s}, nil

	case ChangeTypeCreateEnum:
		return []rendered{r.createEnum(c)}, nil

	case ChangeTypeDropEnum:
		return []rendered{r.dropEnum(c)}, nil

	case ChangeTypeAlterEnum:
		return r.alterEnum(c)

	default:
		return nil, &UnsupportedChangeError{Change: c, Detail: "unknown change type"}
	}
}

// renameTranslation maps post-rename names back to the names that exist in
// the database before the rename phase runs. Rename records come out of the
// differ keyed by desired names, but every earlier phase executes while the
// original names are still in effect.
type renameTranslation struct {
	tables  map[string]string            // new table name -> old
	columns map[string]map[string]string // new table name -> new column -> old column
}

func buildRenameTranslation(changes []SchemaChange) *renameTranslation {
	tr := &renameTranslation{
		tables:  make(map[string]string),
		columns: make(map[string]map[string]string),
	}
	for _, c := range changes {
		switch c.Type {
		case ChangeTypeRenameTable:
			tr.tables[c.NewName] = c.Table
		case ChangeTypeRenameColumn:
			if tr.columns[c.Table] == nil {
				tr.columns[c.Table] = make(map[string]string)
			}
			tr.columns[c.Table][c.NewName] = c.Column
		}
	}
	if len(tr.tables) == 0 && len(tr.columns) == 0 {
		return nil
	}
	return tr
}

func (tr *renameTranslation) tableName(name string) string {
	if old, ok := tr.tables[name]; ok {
		return old
	}
	return name
}

func (tr *renameTranslation) columnName(table, name string) string {
	if old, ok := tr.columns[table][name]; ok {
		return old
	}
	return name
}

func (tr *renameTranslation) columnNames(table string, names []string) []string {
	out := make([]string, len(names))
	for i, n := range names {
		out[i] = tr.columnName(table, n)
	}
	return out
}

// apply rewrites a pre-rename-phase change to the names in effect at that
// point. Rename steps themselves still run last, untranslated.
func (tr *renameTranslation) apply(c SchemaChange) SchemaChange {
	if tr == nil || phaseOf(c) >= phaseRenames {
		return c
	}
	table := c.Table
	c.Table = tr.tableName(table)
	if c.Column != "" {
		c.Column = tr.columnName(table, c.Column)
	}
	if c.After != nil {
		after := *c.After
		after.Name = tr.columnName(table, after.Name)
		c.After = &after
	}
	if c.Index != nil {
		idx := *c.Index
		idx.Columns = tr.columnNames(table, idx.Columns)
		c.Index = &idx
	}
	if c.ForeignKey != nil {
		fk := *c.ForeignKey
		fk.Columns = tr.columnNames(table, fk.Columns)
		fk.ReferencedColumns = tr.columnNames(fk.ReferencedTable, fk.ReferencedColumns)
		fk.ReferencedTable = tr.tableName(fk.ReferencedTable)
		c.ForeignKey = &fk
	}
	if c.PrimaryKeyChanged && c.TargetTable != nil && c.TargetTable.PrimaryKey != nil {
		t := *c.TargetTable
		t.PrimaryKey = &schema.PrimaryKey{Columns: tr.columnNames(table, c.TargetTable.PrimaryKey.Columns)}
		c.TargetTable = &t
	}
	return c
}

func wrapUnsupported(c SchemaChange, err error) error {
	if _, ok := err.(*dialect.UnsupportedCapabilityError); ok {
		return err
	}
	return &UnsupportedChangeError{Change: c, Detail: err.Error()}
}

// orderChanges sorts changes by phase, then by foreign-key topology for
// created tables, then by input order. The sort is stable so output is
// deterministic for identical input.
func orderChanges(changes []SchemaChange, desc *dialect.Descriptor) []SchemaChange {
	ranks := createTableRanks(changes)

	ordered := make([]SchemaChange, len(changes))
	copy(ordered, changes)
	type key struct {
		phase int
		rank  int
		input int
	}
	keys := make(map[int]key, len(ordered))
	for i, c := range ordered {
		k := key{phase: phaseOf(c), input: i}
		if c.Type == ChangeTypeCreateTable {
			k.rank = ranks[c.Table]
		}
		keys[i] = k
	}
	idx := make([]int, len(ordered))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool {
		ka, kb := keys[idx[a]], keys[idx[b]]
		if ka.phase != kb.phase {
			return ka.phase < kb.phase
		}
		if ka.rank != kb.rank {
			return ka.rank < kb.rank
		}
		return ka.input < kb.input
	})
	result := make([]SchemaChange, len(ordered))
	for i, j := range idx {
		result[i] = ordered[j]
	}
	return result
}

// createTableRanks computes a stable topological order over the tables being
// created: a referenced table ranks before every table whose foreign keys
// point at it. Ties and cycles fall back to declaration order; cycles are
// harmless because foreign keys are added (or enforced) after creation.
func createTableRanks(changes []SchemaChange) map[string]int {
	var names []string
	tables := make(map[string]*schema.Table)
	for _, c := range changes {
		if c.Type == ChangeTypeCreateTable {
			names = append(names, c.Table)
			tables[c.Table] = c.TargetTable
		}
	}

	deps := make(map[string]map[string]bool, len(names)) // table -> created tables it references
	for _, name := range names {
		deps[name] = make(map[string]bool)
		for _, fk := range tables[name].ForeignKeys {
			if fk.ReferencedTable != name && tables[fk.ReferencedTable] != nil {
				deps[name][fk.ReferencedTable] = true
			}
		}
	}

	ranks := make(map[string]int, len(names))
	placed := make(map[string]bool, len(names))
	for len(ranks) < len(names) {
		progressed := false
		for _, name := range names {
			if placed[name] {
				continue
			}
			ready := true
			for dep := range deps[name] {
				if !placed[dep] {
					ready = false
					break
				}
			}
			if ready {
				ranks[name] = len(ranks)
				placed[name] = true
				progressed = true
			}
		}
		if !progressed {
			// Cycle: place the first remaining table by declaration order.
			for _, name := range names {
				if !placed[name] {
					ranks[name] = len(ranks)
					placed[name] = true
					break
				}
			}
		}
	}
	return ranks
}

// Script renders the plan as a single concatenated SQL script with one
// statement per step. The caller owns file naming and directory layout.
func (p *Plan) Script() string {
	var b []byte
	for _, s := range p.Steps {
		b = append(b, s.SQL...)
		b = append(b, ";\n"...)
	}
	return string(b)
}

// checksumScript is the content hash recorded in the history ledger and
// verified on every later load.
func checksumScript(script string) string {
	h := sha256.Sum256([]byte(script))
	return fmt.Sprintf("%x", h[:])
}

// ChecksumScript exposes the plan/script content hash for callers that load
// scripts back from the migrations directory.
func ChecksumScript(script string) string {
	return checksumScript(script)
}
