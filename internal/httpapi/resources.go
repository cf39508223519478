package httpapi

// Customers are soft-deleted so that invoices and orders keep a valid
// reference.
var customersResource = Resource{
	Table:   "customers",
	Label:   "Customer",
	ListKey: "customers",
	Columns: []string{
		"customer_name", "contact_person", "phone", "email", "gst_number",
		"address", "city", "state", "pincode", "is_active",
	},
	Required:         []string{"customer_name"},
	Defaults:         Fields{{Name: "is_active", Value: Int(1)}},
	SearchColumns:    []string{"customer_name", "contact_person", "phone", "email"},
	SoftDeleteColumn: "is_active",
	Snapshots:        []string{cacheKeyStats},
}

var aggregatesResource = Resource{
	Table: "aggregates",
	Label: "Aggregate",
	Columns: []string{
		"vendor_name", "material", "quantity", "unit", "rate", "amount",
		"purchase_date", "payment_status",
	},
	SearchColumns: []string{"vendor_name", "material"},
}

var cashBookResource = Resource{
	Table: "cash_book",
	Label: "Cash book entry",
	Columns: []string{
		"transaction_date", "description", "transaction_type", "amount", "reference",
	},
	Required:      []string{"transaction_type", "amount"},
	SearchColumns: []string{"description", "reference"},
}

// mountedResource pairs a base path with a plain factory resource.
type mountedResource struct {
	path string
	res  Resource
}

// genericResources are served entirely by the CRUD factory.
var genericResources = []mountedResource{
	{"/sales-orders", Resource{
		Table: "sales_orders",
		Label: "Sales order",
		Columns: []string{
			"order_number", "customer_id", "order_date", "scheduled_date", "grade",
			"quantity", "destination", "status", "notes",
		},
		SearchColumns: []string{"order_number", "destination", "status"},
		Snapshots:     []string{cacheKeyStats},
	}},
	{"/weight-bridge-reports", Resource{
		Table: "weight_bridge_reports",
		Label: "Weight bridge report",
		Columns: []string{
			"ticket_number", "vehicle_number", "material", "gross_weight", "tare_weight",
			"net_weight", "report_date", "driver_name", "notes",
		},
		SearchColumns: []string{"ticket_number", "vehicle_number", "material"},
	}},
	{"/delivery-challans", Resource{
		Table: "delivery_challans",
		Label: "Delivery challan",
		Columns: []string{
			"challan_number", "customer_id", "sales_order_id", "delivery_date",
			"vehicle_number", "driver_name", "grade", "quantity", "destination", "status",
		},
		SearchColumns: []string{"challan_number", "vehicle_number", "destination"},
		Snapshots:     []string{cacheKeyQuantity},
	}},
	{"/quotations", Resource{
		Table: "quotations",
		Label: "Quotation",
		Columns: []string{
			"quotation_number", "customer_id", "quotation_date", "valid_until", "grade",
			"quantity", "rate", "amount", "status",
		},
		SearchColumns: []string{"quotation_number", "grade", "status"},
	}},
	{"/purchase-orders", Resource{
		Table: "purchase_orders",
		Label: "Purchase order",
		Columns: []string{
			"po_number", "vendor_name", "po_date", "material", "quantity", "unit",
			"rate", "amount", "status",
		},
		SearchColumns: []string{"po_number", "vendor_name", "material"},
	}},
	{"/recipes", Resource{
		Table: "recipes",
		Label: "Recipe",
		Columns: []string{
			"recipe_code", "grade", "cement", "sand", "aggregate", "water",
			"admixture", "description",
		},
		SearchColumns: []string{"recipe_code", "grade"},
	}},
	{"/mix-designs", Resource{
		Table: "mix_designs",
		Label: "Mix design",
		Columns: []string{
			"mix_code", "grade", "target_strength", "cement", "sand", "aggregate",
			"water", "admixture", "description",
		},
		SearchColumns: []string{"mix_code", "grade"},
	}},
	{"/cube-tests", Resource{
		Table: "cube_tests",
		Label: "Cube test",
		Columns: []string{
			"test_id", "batch_number", "grade", "cast_date", "test_date", "age_days",
			"strength", "result",
		},
		SearchColumns: []string{"test_id", "batch_number", "grade"},
	}},
	{"/batch-lists", Resource{
		Table: "batch_lists",
		Label: "Batch list",
		Columns: []string{
			"batch_number", "batch_date", "grade", "batch_size", "mix_design",
			"plant_operator", "status",
		},
		SearchColumns: []string{"batch_number", "grade", "plant_operator"},
	}},
}
