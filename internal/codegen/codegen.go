// Package codegen precompiles the per-model dispatch table the catalog
// otherwise builds at runtime (catalog.Catalog.Refresh), as a static switch
// over model.op pairs generated with github.com/dave/jennifer. Every
// generated case still calls catalog.Catalog.Dispatch, so the catalog's own
// handler lookup still runs on each call.
package codegen

import (
	"fmt"
	"sort"

	"github.com/dave/jennifer/jen"
	"github.com/go-openapi/inflect"

	"github.com/syssam/dataflow/catalog"
	"github.com/syssam/dataflow/model"
)

// Options configures dispatcher generation.
type Options struct {
	// Package is the generated file's package name (default "dispatch").
	Package string
}

func (o Options) withDefaults() Options {
	if o.Package == "" {
		o.Package = "dispatch"
	}
	return o
}

// GenerateDispatcher renders a Go source file containing a Dispatch
// function with one case per (model, op) pair registered in reg, each case
// delegating to catalog.Catalog.Dispatch for that exact pair. The generated
// switch is a precompiled mirror of catalog's runtime handler map, not a
// replacement for it — catalog.Catalog remains the source of truth and is
// still called from every generated case.
func GenerateDispatcher(reg *model.Registry, opts Options) (*jen.File, error) {
	opts = opts.withDefaults()
	f := jen.NewFile(opts.Package)
	f.HeaderComment("Code generated by dataflow/internal/codegen. DO NOT EDIT.")

	f.ImportName("github.com/syssam/dataflow/catalog", "catalog")

	models := reg.All()
	sort.Slice(models, func(i, j int) bool { return models[i].Name < models[j].Name })

	f.Comment("Dispatch routes a (model, op) pair to the catalog. Pairs not listed")
	f.Comment("below fall through to catalog.Catalog.Dispatch, which rejects an")
	f.Comment("unknown model or op with an error; nothing here panics.")
	f.Func().Id("Dispatch").Params(
		jen.Id("c").Op("*").Qual("github.com/syssam/dataflow/catalog", "Catalog"),
		jen.Id("ec").Op("*").Qual("github.com/syssam/dataflow/catalog", "ExecContext"),
		jen.Id("modelName").String(),
		jen.Id("op").Qual("github.com/syssam/dataflow/catalog", "Op"),
		jen.Id("params").Qual("github.com/syssam/dataflow/catalog", "Params"),
	).Op("*").Qual("github.com/syssam/dataflow/catalog", "Result").Block(
		jen.Switch().Block(
			caseClauses(models)...,
		),
	)

	return f, nil
}

func caseClauses(models []*model.Model) []jen.Code {
	allOps := []catalog.Op{
		catalog.OpCreate, catalog.OpRead, catalog.OpUpdate, catalog.OpDelete, catalog.OpList,
		catalog.OpUpsert, catalog.OpCount, catalog.OpBulkCreate, catalog.OpBulkUpdate,
		catalog.OpBulkDelete, catalog.OpBulkUpsert,
	}
	var cases []jen.Code
	for _, m := range models {
		for _, op := range allOps {
			cond := jen.Id("modelName").Op("==").Lit(m.Name).Op("&&").Id("op").Op("==").Qual("github.com/syssam/dataflow/catalog", string(opConstName(op)))
			cases = append(cases, jen.Case(cond).Block(
				jen.Return(jen.Id("c").Dot("Dispatch").Call(jen.Id("ec"), jen.Lit(m.Name), jen.Qual("github.com/syssam/dataflow/catalog", string(opConstName(op))), jen.Id("params"))),
			))
		}
	}
	cases = append(cases, jen.Default().Block(
		jen.Return(jen.Id("c").Dot("Dispatch").Call(jen.Id("ec"), jen.Id("modelName"), jen.Id("op"), jen.Id("params"))),
	))
	return cases
}

const sqlPkg = "github.com/syssam/dataflow/dialect/sql"

// GenerateFieldConstants renders typed field predicate declarations for
// every field of every model in reg, one exported var per (model, field)
// pair, instantiating the generic helpers in dialect/sql/predicate.go. For
// a model User with a string field email it emits
//
//	var UserEmail = sql.StringField[sql.Predicate]("email")
//
// so call sites filter with UserEmail.EQ(...) instead of spelling the
// column name and operator by hand.
func GenerateFieldConstants(reg *model.Registry, opts Options) (*jen.File, error) {
	opts = opts.withDefaults()
	f := jen.NewFile(opts.Package)
	f.HeaderComment("Code generated by dataflow/internal/codegen. DO NOT EDIT.")
	f.ImportName(sqlPkg, "sql")

	models := reg.All()
	sort.Slice(models, func(i, j int) bool { return models[i].Name < models[j].Name })

	for _, m := range models {
		for _, fld := range m.Fields {
			helper, extra := fieldHelper(fld.Type)
			params := []jen.Code{predType()}
			if extra != nil {
				params = append(params, extra)
			}
			f.Var().Id(inflect.Camelize(m.Name) + inflect.Camelize(fld.Name)).Op("=").
				Qual(sqlPkg, helper).Index(params...).Call(jen.Lit(fld.Name))
		}
	}
	return f, nil
}

func predType() jen.Code {
	return jen.Qual(sqlPkg, "Predicate")
}

// fieldHelper maps a declared field type to its predicate helper and, for
// the two-parameter helpers, the value type to instantiate with.
func fieldHelper(t model.FieldType) (string, jen.Code) {
	switch t {
	case model.String, model.Text:
		return "StringField", nil
	case model.Int32:
		return "IntField", nil
	case model.Int64:
		return "Int64Field", nil
	case model.Float64, model.Decimal:
		return "Float64Field", nil
	case model.Bool:
		return "BoolField", nil
	case model.Timestamp, model.Date:
		return "TimeField", jen.Qual("time", "Time")
	case model.UUID:
		return "UUIDField", jen.Qual("github.com/google/uuid", "UUID")
	case model.Vector:
		return "OtherField", jen.Index().Float64()
	default: // bytes, json
		return "OtherField", jen.Index().Byte()
	}
}

func opConstName(op catalog.Op) string {
	switch op {
	case catalog.OpCreate:
		return "OpCreate"
	case catalog.OpRead:
		return "OpRead"
	case catalog.OpUpdate:
		return "OpUpdate"
	case catalog.OpDelete:
		return "OpDelete"
	case catalog.OpList:
		return "OpList"
	case catalog.OpUpsert:
		return "OpUpsert"
	case catalog.OpCount:
		return "OpCount"
	case catalog.OpBulkCreate:
		return "OpBulkCreate"
	case catalog.OpBulkUpdate:
		return "OpBulkUpdate"
	case catalog.OpBulkDelete:
		return "OpBulkDelete"
	case catalog.OpBulkUpsert:
		return "OpBulkUpsert"
	default:
		return fmt.Sprintf("Op(%q)", string(op))
	}
}
