package model

// Contract describes a tradable futures instrument.
type Contract struct {
	Code      string  `json:"code"`
	ID        string  `json:"id"`
	Name      string  `json:"name"`
	SymbolID  string  `json:"symbolId"`
	TickSize  float64 `json:"tickSize,omitempty"`
	TickValue float64 `json:"tickValue,omitempty"`
}

// DefaultContractCode is used when no instrument is configured.
const DefaultContractCode = "MGCZ5"

// Contracts is the built-in instrument registry.
var Contracts = []Contract{
	{Code: "MGCZ5", ID: "CON.F.US.MGC.Z25", Name: "Micro Gold: December 2025", SymbolID: "F.US.MGC", TickSize: 0.1, TickValue: 1},
	{Code: "MNQZ5", ID: "CON.F.US.MNQ.Z25", Name: "Micro E-mini Nasdaq-100: December 2025", SymbolID: "F.US.MNQ", TickSize: 0.25, TickValue: 0.5},
	{Code: "NQZ5", ID: "CON.F.US.ENQ.Z25", Name: "E-mini Nasdaq-100: December 2025", SymbolID: "F.US.ENQ", TickSize: 0.25, TickValue: 5},
	{Code: "GCZ5", ID: "CON.F.US.GCE.Z25", Name: "Gold: December 2025", SymbolID: "F.US.GCE", TickSize: 0.1, TickValue: 10},
	{Code: "6BZ5", ID: "CON.F.US.BP6.Z25", Name: "British Pound (Globex): December 2025", SymbolID: "F.US.BP6", TickSize: 0.0001, TickValue: 6.25},
	{Code: "6CZ5", ID: "CON.F.US.CA6.Z25", Name: "Canadian Dollar (Globex): December 2025", SymbolID: "F.US.CA6", TickSize: 0.00005, TickValue: 5},
	{Code: "CLZ5", ID: "CON.F.US.CLE.Z25", Name: "Crude Light (Globex): December 2025", SymbolID: "F.US.CLE", TickSize: 0.01, TickValue: 10},
	{Code: "HGZ5", ID: "CON.F.US.CPE.Z25", Name: "Copper (Globex): December 2025", SymbolID: "F.US.CPE", TickSize: 0.0005, TickValue: 12.5},
}

// ResolveContract finds a contract by code, id or symbol id. Unknown values
// resolve to an ad-hoc contract whose code, id and symbol id are the input.
// An empty value returns ok=false.
func ResolveContract(value string) (Contract, bool) {
	if value == "" {
		return Contract{}, false
	}
	for _, c := range Contracts {
		if c.Code == value || c.ID == value || c.SymbolID == value {
			return c, true
		}
	}
	return Contract{Code: value, ID: value, Name: value, SymbolID: value}, true
}
