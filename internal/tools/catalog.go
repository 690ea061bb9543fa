// Package tools exposes the aggregation primitives as named tools with declared
// parameter schemas, decodes model-supplied arguments and executes calls.
package tools

import (
	"aiquery/internal/core"
)

// Tool names as seen by decision engines.
const (
	DateSum     = "filter_by_date_and_sum"
	DateCount   = "filter_by_date_and_count"
	TypeSum     = "filter_by_type_and_sum"
	TypeCount   = "filter_by_type_and_count"
	AmountSum   = "filter_by_amount_and_sum"
	AmountCount = "filter_by_amount_and_count"
)

// Parameter names on the wire.
const (
	ParamStartDate = "start_date"
	ParamEndDate   = "end_date"
	ParamKind      = "transaction_type"
	ParamMinAmount = "min_amount"
	ParamMaxAmount = "max_amount"
)

// ParamType is the JSON type of a tool parameter.
type ParamType string

const (
	TypeString ParamType = "string"
	TypeNumber ParamType = "number"
)

// Reduction is what a tool produces.
type Reduction string

const (
	ReduceSum   Reduction = "sum"
	ReduceCount Reduction = "count"
)

type (
	// Param declares one optional tool parameter.
	Param struct {
		Name        string
		Type        ParamType
		Description string
		Enum        []string
	}

	// Definition declares a tool.
	Definition struct {
		Name        string
		Description string
		Reduction   Reduction
		Params      []Param
	}
)

var (
	startDate = Param{Name: ParamStartDate, Type: TypeString, Description: "Start date in YYYY-MM-DD format (inclusive)."}
	endDate   = Param{Name: ParamEndDate, Type: TypeString, Description: "End date in YYYY-MM-DD format (inclusive). Defaults to start_date."}
	kind      = Param{Name: ParamKind, Type: TypeString, Description: "Transaction type to keep: 'credit' (income) or 'debit' (expenditure).", Enum: []string{string(core.KindCredit), string(core.KindDebit)}}
	minAmount = Param{Name: ParamMinAmount, Type: TypeNumber, Description: "Minimum transaction amount in NGN (inclusive, non-negative)."}
	maxAmount = Param{Name: ParamMaxAmount, Type: TypeNumber, Description: "Maximum transaction amount in NGN (inclusive, non-negative)."}
)

var definitions = []Definition{
	{
		Name:        DateSum,
		Description: "Filter transactions by date range, optionally by type and amount bounds, and sum their amounts. With no parameters it sums all transactions.",
		Reduction:   ReduceSum,
		Params:      []Param{startDate, endDate, kind, minAmount, maxAmount},
	},
	{
		Name:        DateCount,
		Description: "Filter transactions by date range, optionally by type and amount bounds, and count them. With no parameters it counts all transactions.",
		Reduction:   ReduceCount,
		Params:      []Param{startDate, endDate, kind, minAmount, maxAmount},
	},
	{
		Name:        TypeSum,
		Description: "Filter transactions by type and sum their amounts. Returns 0 when nothing matches.",
		Reduction:   ReduceSum,
		Params:      []Param{kind},
	},
	{
		Name:        TypeCount,
		Description: "Filter transactions by type and count them.",
		Reduction:   ReduceCount,
		Params:      []Param{kind},
	},
	{
		Name:        AmountSum,
		Description: "Filter transactions by amount range and sum their amounts.",
		Reduction:   ReduceSum,
		Params:      []Param{minAmount, maxAmount},
	},
	{
		Name:        AmountCount,
		Description: "Filter transactions by amount range and count them.",
		Reduction:   ReduceCount,
		Params:      []Param{minAmount, maxAmount},
	},
}

// Catalog is the set of tools offered to a decision engine together with the
// routing metadata that documents how queries map onto them.
type Catalog struct {
	defs    []Definition
	byName  map[string]Definition
	routing *Routing
}

// NewCatalog builds the catalog of the six primitives.
func NewCatalog(routing *Routing) *Catalog {
	byName := make(map[string]Definition, len(definitions))
	for _, d := range definitions {
		byName[d.Name] = d
	}
	return &Catalog{defs: definitions, byName: byName, routing: routing}
}

// Definitions returns the tool definitions in a stable order.
func (c *Catalog) Definitions() []Definition {
	return c.defs
}

// Lookup returns the definition for name.
func (c *Catalog) Lookup(name string) (Definition, bool) {
	d, ok := c.byName[name]
	return d, ok
}

// Routing returns the routing metadata.
func (c *Catalog) Routing() *Routing {
	return c.routing
}
