package persona

// ModelType identifies an entry of the model catalog.
type ModelType string

// Provider names the backend that serves a catalog model.
type Provider string

const (
	ProviderOpenAI Provider = "openai"
	ProviderXAI    Provider = "xai"
	ProviderGoogle Provider = "google"
	ProviderArk    Provider = "ark"
)

// DefaultModelType is assigned to personas created without a model.
const DefaultModelType ModelType = "gpt-4o"

// ModelInfo describes one selectable model.
type ModelInfo struct {
	ID          ModelType `json:"id"`
	Provider    Provider  `json:"provider"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
}

var catalog = []ModelInfo{
	{ID: "gpt-4o", Provider: ProviderOpenAI, Name: "GPT-4o (Latest)", Description: "Most advanced OpenAI model"},
	{ID: "gpt-4-turbo", Provider: ProviderOpenAI, Name: "GPT-4 Turbo", Description: "Fast and powerful"},
	{ID: "gpt-4", Provider: ProviderOpenAI, Name: "GPT-4", Description: "Stable and reliable"},
	{ID: "gpt-3.5-turbo", Provider: ProviderOpenAI, Name: "GPT-3.5 Turbo", Description: "Fast and cost-effective"},

	{ID: "grok-2-1212", Provider: ProviderXAI, Name: "Grok 2", Description: "Latest Grok model"},
	{ID: "grok-2-vision-1212", Provider: ProviderXAI, Name: "Grok 2 Vision", Description: "Vision-capable Grok model"},
	{ID: "grok-beta", Provider: ProviderXAI, Name: "Grok Beta", Description: "Stable Grok model"},
	{ID: "grok-vision-beta", Provider: ProviderXAI, Name: "Grok Vision Beta", Description: "Stable vision-capable Grok model"},

	{ID: "gemini-1.0-pro", Provider: ProviderGoogle, Name: "Gemini Pro", Description: "Most capable Google model for text"},
	{ID: "gemini-1.0-pro-vision", Provider: ProviderGoogle, Name: "Gemini Pro Vision", Description: "Multimodal capabilities (text + vision)"},
	{ID: "gemini-1.0-ultra", Provider: ProviderGoogle, Name: "Gemini Ultra", Description: "Most advanced Google model"},

	// Ark routes to the endpoint configured by ARK_MODEL.
	{ID: "doubao-ark", Provider: ProviderArk, Name: "Doubao (Ark)", Description: "Volcengine Ark endpoint"},
}

// Catalog returns the selectable models in display order.
func Catalog() []ModelInfo {
	return append([]ModelInfo(nil), catalog...)
}

// LookupModel finds a catalog entry by identifier.
func LookupModel(id ModelType) (ModelInfo, bool) {
	for _, info := range catalog {
		if info.ID == id {
			return info, true
		}
	}
	return ModelInfo{}, false
}
