package schema

import (
	"fmt"
	"sort"

	"github.com/syssam/dataflow/dialect/sql"
)

// RiskBand buckets a Plan's numeric risk score.
type RiskBand string

const (
	RiskLow      RiskBand = "low"
	RiskMedium   RiskBand = "medium"
	RiskHigh     RiskBand = "high"
	RiskCritical RiskBand = "critical"
)

// BandOf returns the band a numeric risk score (0-100) falls into.
func BandOf(score int) RiskBand {
	switch {
	case score <= 30:
		return RiskLow
	case score <= 60:
		return RiskMedium
	case score <= 80:
		return RiskHigh
	default:
		return RiskCritical
	}
}

// RiskFactors are the planner's inputs to ScoreRisk, gathered by the caller
// from the target environment before planning.
type RiskFactors struct {
	Production      bool
	VerifiedBackup  bool
	AffectedRows    int64
	DependentObjects int
	Irreversible    bool
	DataLoss        bool
}

// ScoreRisk computes a 0-100 risk score from the given factors. Each factor
// contributes independently; the weights favor irreversibility and data
// loss over row count, since those two are what make a bad migration
// unrecoverable rather than merely slow.
func ScoreRisk(f RiskFactors) int {
	score := 0
	if f.Production {
		score += 15
	}
	if !f.VerifiedBackup {
		score += 15
	}
	switch {
	case f.AffectedRows > 10_000_000:
		score += 20
	case f.AffectedRows > 1_000_000:
		score += 15
	case f.AffectedRows > 10_000:
		score += 10
	case f.AffectedRows > 0:
		score += 5
	}
	switch {
	case f.DependentObjects > 10:
		score += 15
	case f.DependentObjects > 3:
		score += 10
	case f.DependentObjects > 0:
		score += 5
	}
	if f.Irreversible {
		score += 20
	}
	if f.DataLoss {
		score += 25
	}
	if score > 100 {
		score = 100
	}
	return score
}

// ImpactReport describes one diff's blast radius, produced by the
// dependency analysis sub-pass.
type ImpactReport struct {
	Change           Change
	AffectedObjects  []string
	RequiredRewrites []string
	Severity         int // 1-5
}

// Step is one unit of planned DDL: the forward SQL to apply it, the reverse
// SQL to undo it (empty/Irreversible when no safe reverse exists), and the
// coordination group it belongs to. Steps sharing a Group execute inside one
// savepoint; a failure anywhere in the group rolls the whole group back.
type Step struct {
	Index       int
	Change      Change
	Forward     string
	ForwardArgs []any
	Reverse     string
	Irreversible bool
	Group       string
}

// Plan is the ordered, risk-scored output of planning a schema Diff.
type Plan struct {
	Steps      []*Step
	Impacts    []*ImpactReport
	RiskScore  int
	RiskBand   RiskBand
	Cycles     [][]string
}

// RequiresConfirmation reports whether the plan's risk band requires
// explicit operator confirmation before Execute will run it.
func (p *Plan) RequiresConfirmation() bool { return p.RiskBand == RiskCritical }

// DefaultStrategy describes how a newly NOT NULL column is populated for
// existing rows: a static literal, a whitelisted function token, or a
// computed expression referencing other columns of the same row.
type DefaultStrategy struct {
	Literal    string
	FuncToken  string
	Expression string
}

func (s DefaultStrategy) sqlLiteral() string {
	switch {
	case s.FuncToken != "":
		return s.FuncToken + "()"
	case s.Expression != "":
		return s.Expression
	default:
		return s.Literal
	}
}

func (s DefaultStrategy) empty() bool {
	return s.Literal == "" && s.FuncToken == "" && s.Expression == ""
}

// PlanOptions configures Plan construction.
type PlanOptions struct {
	Dialect          string
	Risk             RiskFactors
	NotNullDefaults  map[string]DefaultStrategy // "table.column" -> strategy
}

// BuildPlan builds an executable migration plan from a set of diffs.
// It performs FK analysis — grouping drop-FK/alter-column/recreate-FK into a
// single atomic step group when a column type change is incompatible with an
// existing FK — and validates that every NOT NULL column addition carries a
// concrete, constraint-safe default strategy before emitting its step.
func BuildPlan(diffs []Change, tables []*Table, opts PlanOptions) (*Plan, error) {
	d := sql.Dialect(opts.Dialect)
	tableByName := make(map[string]*Table, len(tables))
	for _, t := range tables {
		tableByName[t.Name] = t
	}

	plan := &Plan{RiskScore: ScoreRisk(opts.Risk), Cycles: detectCycles(tables)}
	plan.RiskBand = BandOf(plan.RiskScore)

	ordered := orderForFK(diffs, tableByName)

	idx := 0
	for _, c := range ordered {
		step, impact, err := planChange(d, c, tableByName, opts, &idx)
		if err != nil {
			return nil, err
		}
		plan.Steps = append(plan.Steps, step...)
		plan.Impacts = append(plan.Impacts, impact)
	}
	return plan, nil
}

// orderForFK stable-sorts diffs by change kind: table additions first, then
// FK drops, then column, index and default changes, then FK additions, then
// table drops. Within a table this puts FK drops before column alters and
// those before FK recreations. Changes of the same kind keep their input
// order; tables are not ordered by their foreign-key dependencies.
func orderForFK(diffs []Change, tables map[string]*Table) []Change {
	rank := func(c Change) int {
		switch c.Kind {
		case DropForeignKey:
			return 0
		case AlterColumnType, AlterColumnNull, AddColumn, DropColumn:
			return 1
		case AddForeignKey:
			return 2
		case AddTable:
			return -1
		case DropTable:
			return 3
		default:
			return 1
		}
	}
	out := make([]Change, len(diffs))
	copy(out, diffs)
	sort.SliceStable(out, func(i, j int) bool { return rank(out[i]) < rank(out[j]) })
	return out
}

func planChange(d *sql.DialectBuilder, c Change, tables map[string]*Table, opts PlanOptions, idx *int) ([]*Step, *ImpactReport, error) {
	impact := &ImpactReport{Change: c, Severity: severityOf(c)}

	next := func() int {
		i := *idx
		*idx++
		return i
	}

	switch c.Kind {
	case AddTable:
		t := tables[c.Table]
		tb := d.CreateTable(t.Name)
		for _, col := range t.Columns {
			tb.Column(sql.ColumnDef{Name: col.Name, Type: string(col.Type), Nullable: col.Nullable, Default: defaultLiteral(col)})
		}
		if len(t.PrimaryKey) > 0 {
			names := make([]string, len(t.PrimaryKey))
			for i, c := range t.PrimaryKey {
				names[i] = c.Name
			}
			tb.PrimaryKey(names...)
		}
		forward, args := tb.Query()
		return []*Step{{Index: next(), Change: c, Forward: forward, ForwardArgs: args, Reverse: mustSQL(d.DropTable(t.Name))}}, impact, nil

	case DropTable:
		forward := mustSQL(d.DropTable(c.Table))
		return []*Step{{Index: next(), Change: c, Forward: forward, Irreversible: true}}, impact, nil

	case AddColumn:
		if !c.Column.Nullable {
			strategy, ok := opts.NotNullDefaults[c.Table+"."+c.Column.Name]
			if !ok || strategy.empty() {
				return nil, nil, fmt.Errorf("dataflow: NOT NULL column %s.%s requires a default strategy", c.Table, c.Column.Name)
			}
			if !sql.IsSafeDefaultLiteral(strategy.sqlLiteral()) {
				return nil, nil, fmt.Errorf("dataflow: unsafe default literal for %s.%s", c.Table, c.Column.Name)
			}
		}
		forward := mustSQL(d.AddColumn(c.Table, sql.ColumnDef{
			Name: c.Column.Name, Type: string(c.Column.Type), Nullable: true, Default: defaultLiteral(c.Column),
		}))
		steps := []*Step{{Index: next(), Change: c, Forward: forward, Reverse: mustSQL(d.DropColumn(c.Table, c.Column.Name))}}
		if !c.Column.Nullable {
			strategy := opts.NotNullDefaults[c.Table+"."+c.Column.Name]
			steps = append(steps, &Step{
				Index:   next(),
				Change:  c,
				Forward: mustSQL(d.SetNotNullDefault(c.Table, c.Column.Name, strategy.sqlLiteral())),
				Irreversible: true, // NOT NULL backfill is not safely reversible without the pre-backfill values
			})
		}
		return steps, impact, nil

	case DropColumn:
		forward := mustSQL(d.DropColumn(c.Table, c.Column.Name))
		return []*Step{{Index: next(), Change: c, Forward: forward, Irreversible: true}}, impact, nil

	case AlterColumnType:
		group := fmt.Sprintf("alter-%s-%s", c.Table, c.Column.Name)
		var steps []*Step
		affectingFKs := fksTouchingColumn(tables, c.Table, c.Column.Name)
		for _, afk := range affectingFKs {
			steps = append(steps, &Step{
				Index: next(), Change: c, Group: group,
				Forward: mustSQL(d.DropForeignKey(afk.owner, afk.fk.Name)),
				Reverse: mustSQL(d.AddForeignKey(afk.owner, afk.fk.Name, colNames(afk.fk.Columns), afk.fk.RefTable.Name, colNames(afk.fk.RefColumns))),
			})
			impact.AffectedObjects = append(impact.AffectedObjects, "fk:"+afk.fk.Name)
		}
		steps = append(steps, &Step{
			Index: next(), Change: c, Group: group,
			Forward: mustSQL(d.AlterColumnType(c.Table, c.Column.Name, string(c.Column.Type))),
		})
		for _, afk := range affectingFKs {
			steps = append(steps, &Step{
				Index: next(), Change: c, Group: group,
				Forward: mustSQL(d.AddForeignKey(afk.owner, afk.fk.Name, colNames(afk.fk.Columns), afk.fk.RefTable.Name, colNames(afk.fk.RefColumns))),
				Reverse: mustSQL(d.DropForeignKey(afk.owner, afk.fk.Name)),
			})
		}
		impact.RequiredRewrites = append(impact.RequiredRewrites, "recreate dependent FKs")
		return steps, impact, nil

	case AlterColumnNull:
		if c.Breaking {
			strategy, ok := opts.NotNullDefaults[c.Table+"."+c.Column.Name]
			if !ok || strategy.empty() {
				return nil, nil, fmt.Errorf("dataflow: NOT NULL change on %s.%s requires a default strategy", c.Table, c.Column.Name)
			}
		}
		forward := mustSQL(d.SetNotNullDefault(c.Table, c.Column.Name, ""))
		return []*Step{{Index: next(), Change: c, Forward: forward, Irreversible: c.Breaking}}, impact, nil

	case AddIndex:
		forward := mustSQL(d.CreateIndex(c.Index.Name, c.Table, c.Index.Unique, colNames(c.Index.Columns)...))
		return []*Step{{Index: next(), Change: c, Forward: forward, Reverse: mustSQL(d.DropIndex(c.Index.Name, c.Table))}}, impact, nil

	case DropIndex:
		forward := mustSQL(d.DropIndex(c.Index.Name, c.Table))
		return []*Step{{Index: next(), Change: c, Forward: forward, Irreversible: true}}, impact, nil

	case AddForeignKey:
		forward := mustSQL(d.AddForeignKey(c.Table, c.FK.Name, colNames(c.FK.Columns), c.FK.RefTable.Name, colNames(c.FK.RefColumns)))
		return []*Step{{Index: next(), Change: c, Forward: forward, Reverse: mustSQL(d.DropForeignKey(c.Table, c.FK.Name))}}, impact, nil

	case DropForeignKey:
		forward := mustSQL(d.DropForeignKey(c.Table, c.FK.Name))
		return []*Step{{Index: next(), Change: c, Forward: forward, Irreversible: true}}, impact, nil

	default:
		return nil, nil, fmt.Errorf("dataflow: unplanned change kind %q", c.Kind)
	}
}

func severityOf(c Change) int {
	switch {
	case c.Kind == DropTable:
		return 5
	case c.Kind == DropColumn || c.Kind == DropForeignKey:
		return 4
	case c.Breaking:
		return 3
	case c.Kind == AlterColumnType || c.Kind == AlterColumnNull:
		return 2
	default:
		return 1
	}
}

// affectedFK pairs a foreign key with the table that owns the constraint,
// since an incoming FK's DDL targets the referencing table, not the one
// whose column is being altered.
type affectedFK struct {
	owner string
	fk    *ForeignKey
}

// fksTouchingColumn collects every FK a type change on table.col must drop
// and recreate: the table's own FKs on the column, plus FKs in every other
// table whose reference points at table.col (the referenced-PK case, where
// the constraint lives on the referring side). A self-referencing FK is
// reported once.
func fksTouchingColumn(tables map[string]*Table, table, col string) []affectedFK {
	seen := make(map[string]bool)
	var out []affectedFK
	add := func(owner string, fk *ForeignKey) {
		k := owner + "." + fk.Name
		if !seen[k] {
			seen[k] = true
			out = append(out, affectedFK{owner: owner, fk: fk})
		}
	}
	if t := tables[table]; t != nil {
		for _, fk := range t.ForeignKeys {
			for _, c := range fk.Columns {
				if c.Name == col {
					add(table, fk)
					break
				}
			}
		}
	}
	names := make([]string, 0, len(tables))
	for name := range tables {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		for _, fk := range tables[name].ForeignKeys {
			if fk.RefTable == nil || fk.RefTable.Name != table {
				continue
			}
			for _, c := range fk.RefColumns {
				if c.Name == col {
					add(name, fk)
					break
				}
			}
		}
	}
	return out
}

func colNames(cols []*Column) []string {
	names := make([]string, len(cols))
	for i, c := range cols {
		names[i] = c.Name
	}
	return names
}

func defaultLiteral(c *Column) string {
	if c.Default == nil {
		return ""
	}
	if s, ok := c.Default.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", c.Default)
}

func mustSQL(q sql.Querier) string {
	s, _ := q.Query()
	return s
}

// detectCycles flags tables whose FK graph forms a dependency cycle, which
// the dependency analysis sub-pass surfaces rather than silently orders
// (cycles are flagged, not resolved).
func detectCycles(tables []*Table) [][]string {
	graph := make(map[string][]string, len(tables))
	for _, t := range tables {
		for _, fk := range t.ForeignKeys {
			if fk.RefTable != nil {
				graph[t.Name] = append(graph[t.Name], fk.RefTable.Name)
			}
		}
	}
	var cycles [][]string
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[string]int, len(tables))
	var path []string
	var visit func(node string)
	visit = func(node string) {
		color[node] = gray
		path = append(path, node)
		for _, next := range graph[node] {
			switch color[next] {
			case white:
				visit(next)
			case gray:
				cycle := append([]string{}, path...)
				cycle = append(cycle, next)
				cycles = append(cycles, cycle)
			}
		}
		path = path[:len(path)-1]
		color[node] = black
	}
	for _, t := range tables {
		if color[t.Name] == white {
			visit(t.Name)
		}
	}
	return cycles
}
