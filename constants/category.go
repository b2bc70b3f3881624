package constants

// SuggestedCategories seeds the extraction prompt so the model leans toward a
// consistent taxonomy. The pipeline does not enforce membership; whatever the
// model returns is normalized to lowercase free text.
var SuggestedCategories = []string{
	"food",
	"travel",
	"office supplies",
	"mobile recharge",
	"utilities",
	"software",
	"entertainment",
	"health",
	"fuel",
	"other",
}
