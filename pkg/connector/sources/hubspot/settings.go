// Package hubspot implements the HubSpot CRM source connector. It
// extracts CRM objects, property histories, pipelines, stage timing
// and behavioral events as named record streams.
package hubspot

import "time"

// ObjectType is one CRM entity kind, in singular form.
type ObjectType string

const (
	ObjectTypeCompany ObjectType = "company"
	ObjectTypeContact ObjectType = "contact"
	ObjectTypeDeal    ObjectType = "deal"
	ObjectTypeTicket  ObjectType = "ticket"
	ObjectTypeProduct ObjectType = "product"
	ObjectTypeQuote   ObjectType = "quote"
	ObjectTypeOwner   ObjectType = "owner"
)

// AllObjects lists every extractable object type in stream order.
var AllObjects = []ObjectType{
	ObjectTypeCompany,
	ObjectTypeContact,
	ObjectTypeDeal,
	ObjectTypeTicket,
	ObjectTypeProduct,
	ObjectTypeQuote,
	ObjectTypeOwner,
}

// ObjectTypePlural maps singular object types to the plural names used
// as stream names.
var ObjectTypePlural = map[ObjectType]string{
	ObjectTypeCompany: "companies",
	ObjectTypeContact: "contacts",
	ObjectTypeDeal:    "deals",
	ObjectTypeTicket:  "tickets",
	ObjectTypeProduct: "products",
	ObjectTypeQuote:   "quotes",
	ObjectTypeOwner:   "owners",
}

// ObjectTypeSingular is the inverse of ObjectTypePlural.
var ObjectTypeSingular = map[string]ObjectType{
	"companies": ObjectTypeCompany,
	"contacts":  ObjectTypeContact,
	"deals":     ObjectTypeDeal,
	"tickets":   ObjectTypeTicket,
	"products":  ObjectTypeProduct,
	"quotes":    ObjectTypeQuote,
	"owners":    ObjectTypeOwner,
}

// CRM object endpoints. Contacts and companies request their
// associations inline.
var crmObjectEndpoints = map[ObjectType]string{
	ObjectTypeContact: "/crm/v3/objects/contacts?associations=deals,products,tickets,quotes",
	ObjectTypeCompany: "/crm/v3/objects/companies?associations=contacts,deals,products,tickets,quotes",
	ObjectTypeDeal:    "/crm/v3/objects/deals",
	ObjectTypeProduct: "/crm/v3/objects/products",
	ObjectTypeTicket:  "/crm/v3/objects/tickets",
	ObjectTypeQuote:   "/crm/v3/objects/quotes",
	ObjectTypeOwner:   "/crm/v3/owners/",
}

const (
	crmPropertiesEndpoint  = "/crm/v3/properties"
	crmPipelinesEndpoint   = "/crm/v3/pipelines"
	webAnalyticsEventsPath = "/events/v3/events"
	defaultBaseURL         = "https://api.hubapi.com"

	// maxPropsLength bounds the serialized properties query value.
	maxPropsLength = 2000

	// stagePropertyPrefix marks the wide per-stage timestamp columns.
	stagePropertyPrefix = "hs_date_entered_"

	// softDeleteField carries deletion provenance on archived records.
	softDeleteField = "is_deleted"

	// mergedObjectIDsField holds semicolon-joined ids upstream; it is
	// split into a list during extraction.
	mergedObjectIDsField = "hs_merged_object_ids"

	// customPropsReservedPrefix marks HubSpot-defined property names.
	// Anything else is considered a portal custom property.
	customPropsReservedPrefix = "hs_"

	defaultPageSize = 100
	historyPageSize = 50
)

// pipelinesObjects lists the plural object names that carry pipelines
// and stage timing streams.
var pipelinesObjects = []string{"deals"}

// defaultStartDate seeds the event cursor when no state exists.
var defaultStartDate = time.Date(2024, 2, 10, 0, 0, 0, 0, time.UTC)

// defaultProperties is the per-type property set used when config
// names none.
var defaultProperties = map[ObjectType][]string{
	ObjectTypeCompany: {
		"createdate",
		"domain",
		"hs_lastmodifieddate",
		"hs_object_id",
		"name",
	},
	ObjectTypeContact: {
		"createdate",
		"email",
		"firstname",
		"hs_object_id",
		"lastmodifieddate",
		"lastname",
	},
	ObjectTypeDeal: {
		"amount",
		"closedate",
		"createdate",
		"dealname",
		"dealstage",
		"hs_lastmodifieddate",
		"hs_object_id",
		"pipeline",
	},
	ObjectTypeTicket: {
		"createdate",
		"content",
		"hs_lastmodifieddate",
		"hs_object_id",
		"hs_pipeline",
		"hs_pipeline_stage",
		"hs_ticket_category",
		"hs_ticket_priority",
		"subject",
	},
	ObjectTypeProduct: {
		"createdate",
		"description",
		"hs_lastmodifieddate",
		"hs_object_id",
		"name",
		"price",
	},
	ObjectTypeQuote: {
		"hs_createdate",
		"hs_expiration_date",
		"hs_lastmodifieddate",
		"hs_object_id",
		"hs_public_url_key",
		"hs_status",
		"hs_title",
	},
}
