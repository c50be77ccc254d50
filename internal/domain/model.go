// Package domain defines the core entities and value objects for shai-remote.
//
// This file holds the generation backend definitions. The domain layer has no
// infrastructure dependencies; adapters translate to and from these types.
package domain

// ModelDefinition describes one generation backend declared in the config file.
type ModelDefinition struct {
	Name       string          `yaml:"name"`
	Provider   string          `yaml:"provider,omitempty"`
	Endpoint   string          `yaml:"endpoint"`
	AuthEnvVar string          `yaml:"auth_env_var"`
	OrgEnvVar  string          `yaml:"org_env_var,omitempty"`
	ModelID    string          `yaml:"model_id"`
	MaxTokens  int             `yaml:"max_tokens"`
	Prompt     []PromptMessage `yaml:"prompt,omitempty"`
	APIFormat  APIFormat       `yaml:"api_format,omitempty"`
}

// ProviderID identifies the backend in cache rows; it defaults to the model name.
func (m ModelDefinition) ProviderID() string {
	if m.Provider != "" {
		return m.Provider
	}
	if m.Endpoint == "" {
		return ProviderHeuristic
	}
	return m.Name
}

// APIFormat defines how to construct requests and parse responses for different APIs.
// All fields are optional with OpenAI-compatible defaults.
type APIFormat struct {
	// AuthHeaderName defaults to "Authorization".
	AuthHeaderName string `yaml:"auth_header_name,omitempty"`

	// AuthHeaderPrefix is prepended to the key. Defaults to "Bearer " unless
	// AuthHeaderName is customized.
	AuthHeaderPrefix string `yaml:"auth_header_prefix,omitempty"`

	// SystemMessageMode is "inline" (default) or "separate" (Anthropic).
	SystemMessageMode string `yaml:"system_message_mode,omitempty"`

	// ContentWrapper is "standard" (default) or "anthropic".
	ContentWrapper string `yaml:"content_wrapper,omitempty"`

	// ResponseJSONPath locates the generated text, e.g. "content[0].text".
	ResponseJSONPath string `yaml:"response_json_path,omitempty"`

	ExtraHeaders map[string]string `yaml:"extra_headers,omitempty"`
}

// PromptMessage follows the role/content pair required by most chat APIs.
type PromptMessage struct {
	Role    string `yaml:"role"`
	Content string `yaml:"content"`
}

const (
	DefaultAuthHeaderName   = "Authorization"
	DefaultAuthHeaderPrefix = "Bearer "

	SystemMessageModeInline   = "inline"
	SystemMessageModeSeparate = "separate"

	ContentWrapperStandard  = "standard"
	ContentWrapperAnthropic = "anthropic"

	DefaultResponsePath   = "choices[0].message.content"
	AnthropicResponsePath = "content[0].text"

	// ProviderHeuristic names the offline provider used when no endpoint is set.
	ProviderHeuristic = "heuristic"
)

// GetAuthHeaderName returns the authentication header name with default fallback.
func (f APIFormat) GetAuthHeaderName() string {
	if f.AuthHeaderName == "" {
		return DefaultAuthHeaderName
	}
	return f.AuthHeaderName
}

// GetAuthHeaderPrefix returns the authentication header prefix. An empty
// prefix is honoured when the header name was customized.
func (f APIFormat) GetAuthHeaderPrefix() string {
	if f.AuthHeaderName != "" && f.AuthHeaderPrefix == "" {
		return ""
	}
	if f.AuthHeaderPrefix == "" {
		return DefaultAuthHeaderPrefix
	}
	return f.AuthHeaderPrefix
}

// GetResponseJSONPath returns the JSON path for extracting response content.
func (f APIFormat) GetResponseJSONPath() string {
	if f.ResponseJSONPath == "" {
		return DefaultResponsePath
	}
	return f.ResponseJSONPath
}

// IsSystemMessageSeparate returns true if system messages go in a separate field.
func (f APIFormat) IsSystemMessageSeparate() bool {
	return f.SystemMessageMode == SystemMessageModeSeparate
}

// IsContentWrapped returns true if content is wrapped in Anthropic's array format.
func (f APIFormat) IsContentWrapped() bool {
	return f.ContentWrapper == ContentWrapperAnthropic
}
