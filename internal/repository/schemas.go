package repository

import "sort"

// Records are the bulk-synced resources, keyed by their external id.
var Records = map[string]Schema{
	"assets": {
		Resource: "assets",
		Table:    "assets",
		Fields: []Field{
			{Name: "item_id", Type: Int, Key: true},
			{Name: "type_id", Type: Int, Required: true},
			{Name: "location_id", Type: Int, Required: true},
			{Name: "location_flag", Type: String},
			{Name: "location_type", Type: String},
			{Name: "quantity", Type: Int},
			{Name: "is_singleton", Type: Bool},
			{Name: "is_blueprint_copy", Type: Bool},
		},
		Filters: []Filter{
			{Param: "location_id", Column: "location_id", Type: Int},
			{Param: "type_id", Column: "type_id", Type: Int},
			{Param: "location_flag", Column: "location_flag", Type: String},
		},
		Order: "`item_id`",
	},
	"industry-jobs": {
		Resource: "industry-jobs",
		Table:    "industry_jobs",
		Fields: []Field{
			{Name: "job_id", Type: Int, Key: true},
			{Name: "installer_id", Type: Int, Required: true},
			{Name: "facility_id", Type: Int},
			{Name: "activity_id", Type: Int, Required: true},
			{Name: "blueprint_type_id", Type: Int},
			{Name: "product_type_id", Type: Int},
			{Name: "runs", Type: Int},
			{Name: "cost", Type: Float},
			{Name: "status", Type: String, Required: true},
			{Name: "start_date", Type: Time},
			{Name: "end_date", Type: Time},
			{Name: "completed_date", Type: Time},
		},
		Filters: []Filter{
			{Param: "installer_id", Column: "installer_id", Type: Int},
			{Param: "activity_id", Column: "activity_id", Type: Int},
			{Param: "facility_id", Column: "facility_id", Type: Int},
		},
		Status: &StatusFilter{
			Column: "status",
			Groups: map[string][]string{
				"active":   {"active", "paused", "ready"},
				"finished": {"delivered", "cancelled", "reverted"},
			},
		},
		Order: "`end_date` DESC, `job_id`",
	},
	"market-orders": {
		Resource: "market-orders",
		Table:    "market_orders",
		Fields: []Field{
			{Name: "order_id", Type: Int, Key: true},
			{Name: "character_id", Type: Int},
			{Name: "type_id", Type: Int, Required: true},
			{Name: "location_id", Type: Int, Required: true},
			{Name: "region_id", Type: Int},
			{Name: "price", Type: Float, Required: true},
			{Name: "volume_total", Type: Int},
			{Name: "volume_remain", Type: Int},
			{Name: "is_buy_order", Type: Bool},
			{Name: "state", Type: String},
			{Name: "issued", Type: Time},
			{Name: "duration", Type: Int},
		},
		Filters: []Filter{
			{Param: "type_id", Column: "type_id", Type: Int},
			{Param: "location_id", Column: "location_id", Type: Int},
			{Param: "region_id", Column: "region_id", Type: Int},
			{Param: "character_id", Column: "character_id", Type: Int},
			{Param: "is_buy_order", Column: "is_buy_order", Type: Bool},
		},
		Status: &StatusFilter{
			Column: "state",
			Groups: map[string][]string{
				"open":   {"active"},
				"closed": {"cancelled", "expired"},
			},
		},
		Order: "`issued` DESC, `order_id`",
	},
	"members": {
		Resource: "members",
		Table:    "members",
		Fields: []Field{
			{Name: "character_id", Type: Int, Key: true},
			{Name: "name", Type: String, Required: true},
			{Name: "corporation_id", Type: Int},
			{Name: "title", Type: String},
			{Name: "start_date", Type: Time},
			{Name: "logon_date", Type: Time},
			{Name: "logoff_date", Type: Time},
			{Name: "location_id", Type: Int},
			{Name: "ship_type_id", Type: Int},
		},
		Filters: []Filter{
			{Param: "corporation_id", Column: "corporation_id", Type: Int},
			{Param: "location_id", Column: "location_id", Type: Int},
		},
		Order: "`name`",
	},
}

// Resources lists the record resource names in a stable order.
func Resources() []string {
	names := make([]string, 0, len(Records))
	for name := range Records {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
