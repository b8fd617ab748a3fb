package reports

import "github.com/meridian/report-engine/engine"

// defaultVar builds one catalog entry; keeps the table below readable.
func defaultVar(name string, kind engine.VariableKind, dt engine.DataType, formula, validation, expected string, fallback *float64) engine.VariableDefinition {
	def := engine.VariableDefinition{
		Name:           name,
		Kind:           kind,
		DataType:       dt,
		Formula:        formula,
		ValidationRule: validation,
		ExpectedRule:   expected,
	}
	if fallback != nil {
		v := engine.NumberFromFloat(*fallback)
		def.DefaultFallback = &v
	}
	return def
}

func fb(f float64) *float64 { return &f }

// DefaultCatalog returns the built-in production catalog: the marketing
// funnel inputs, the product-economics inputs, and the derived household,
// premium and return metrics. Deployments needing different rules or
// fallbacks load their own YAML instead.
//
// The funnel converts three lead channels to estimated households:
// website quote starts, phone calls, and SMS conversations. Households then
// drive policy counts and premium through the agency's product ratios.
func DefaultCatalog() *Catalog {
	in := engine.KindInput
	calc := engine.KindCalculated
	number := engine.TypeNumber
	currency := engine.TypeCurrency
	percentage := engine.TypePercentage

	return &Catalog{
		YTDMetric: "hhs",
		YTDTarget: "hhs_ytd",
		Variables: []engine.VariableDefinition{
			// --- Funnel inputs --------------------------------------------
			defaultVar("quote_starts", in, number, "", "integer AND >= 0", "", nil),
			defaultVar("phone_clicks", in, number, "", "integer AND >= 0", "", nil),
			defaultVar("sms_clicks", in, number, "", "integer AND >= 0", "", fb(0)),
			defaultVar("total_leads", in, number, "", "integer AND >= 0", "", nil),
			defaultVar("%won_website", in, percentage, "", ">= 0 AND <= 1", ">= 0.05 AND <= 0.3", nil),
			defaultVar("conversions", in, percentage, "", ">= 0 AND <= 1", ">= 0.1 AND <= 0.5", nil),
			defaultVar("sms_close_rate", in, percentage, "", ">= 0 AND <= 1", "", fb(0.1)),
			defaultVar("lead_to_quote_rate", in, percentage, "", ">= 0 AND <= 1", "", nil),
			defaultVar("search_impression_share", in, percentage, "", ">= 0 AND <= 1", ">= 0.1", nil),

			// --- Spend inputs ---------------------------------------------
			defaultVar("cost", in, currency, "", ">= 0", "", nil),
			defaultVar("monthly_budget", in, currency, "", ">= 0", "", nil),

			// --- Product economics ----------------------------------------
			defaultVar("autos_per_hh", in, number, "", "> 0", ">= 1 AND <= 3", fb(1.8)),
			defaultVar("fire_per_hh", in, number, "", ">= 0", "<= 2", fb(0.6)),
			defaultVar("average_premium_per_household", in, currency, "", "> 0", ">= 500 AND <= 5000", nil),
			defaultVar("commission_rate", in, percentage, "", "> 0 AND <= 1", ">= 0.08 AND <= 0.25", fb(0.12)),
			defaultVar("retention_rate", in, percentage, "", ">= 0 AND <= 1", ">= 0.7", fb(0.85)),

			// --- Derived: households --------------------------------------
			defaultVar("website_hhs", calc, number, "{quote_starts} x {%won_website}", "", "", nil),
			defaultVar("call_hhs", calc, number, "{phone_clicks} x {conversions}", "", "", nil),
			defaultVar("sms_hhs", calc, number, "{sms_clicks} x {sms_close_rate}", "", "", nil),
			defaultVar("hhs", calc, number, "{website_hhs} + {call_hhs} + {sms_hhs}", ">= 0", "", nil),
			// hhs_ytd has no formula: it is filled by the year-to-date
			// resolver from this month's hhs plus the stored history.
			defaultVar("hhs_ytd", calc, number, "", "", "", nil),

			// --- Derived: policies and premium ----------------------------
			defaultVar("estimated_autos", calc, number, "{hhs} x {autos_per_hh}", "", "", nil),
			defaultVar("estimated_fire", calc, number, "{hhs} x {fire_per_hh}", "", "", nil),
			defaultVar("estimated_policies", calc, number, "{estimated_autos} + {estimated_fire}", "", "", nil),
			defaultVar("total_premium", calc, currency, "{hhs} x {average_premium_per_household}", "", "", nil),
			defaultVar("commission", calc, currency, "{total_premium} x {commission_rate}", "", "", nil),
			defaultVar("ytd_commission", calc, currency, "{hhs_ytd} x {average_premium_per_household} x {commission_rate}", "", "", nil),

			// --- Derived: efficiency and return ---------------------------
			defaultVar("cost_per_lead", calc, currency, "{cost} / {total_leads}", "", "", nil),
			defaultVar("cost_per_hh", calc, currency, "{cost} / {hhs}", "", "", nil),
			defaultVar("close_rate", calc, percentage, "{hhs} / {total_leads}", "", ">= 0 AND <= 1", nil),
			defaultVar("budget_utilization", calc, percentage, "{cost} / {monthly_budget}", "", "<= 1", nil),
			defaultVar("year1_return", calc, currency, "{commission} - {cost}", "", "", nil),
			defaultVar("roi", calc, percentage, "{year1_return} / {cost}", "", "", nil),
		},
	}
}
