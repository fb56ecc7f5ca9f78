package models

// NodeSettings are read from every node config regardless of type.
type NodeSettings struct {
	// Overrides the engine's per-node deadline when positive.
	NodeTimeoutMs int `json:"nodeTimeoutMs,omitempty"`
}

type InputField struct {
	Name     string `json:"name"`
	Required bool   `json:"required,omitempty"`
	Default  any    `json:"default,omitempty"`
}

type InputConfig struct {
	Fields []InputField `json:"fields,omitempty"`
}

// ProcessConfig drives an AI chat completion.
type ProcessConfig struct {
	Provider     string   `json:"provider,omitempty"`
	Model        string   `json:"model,omitempty"`
	SystemPrompt string   `json:"systemPrompt,omitempty"`
	Prompt       string   `json:"prompt"`
	Temperature  *float64 `json:"temperature,omitempty"`
	MaxTokens    int      `json:"maxTokens,omitempty"`
	// "text" (default) or "json"; json parses the answer into data.
	ResponseFormat string `json:"responseFormat,omitempty"`
}

type CodeConfig struct {
	Language      string         `json:"language"`
	Code          string         `json:"code"`
	Input         map[string]any `json:"input,omitempty"`
	TimeoutMs     int            `json:"timeoutMs,omitempty"`
	MaxOutputSize int            `json:"maxOutputSize,omitempty"`
}

type OutputFormat string

const (
	OutputFormatJSON     OutputFormat = "json"
	OutputFormatText     OutputFormat = "text"
	OutputFormatTemplate OutputFormat = "template"
)

type OutputConfig struct {
	Format   OutputFormat `json:"format,omitempty"`
	Template string       `json:"template,omitempty"`
}

type ConditionOperator string

const (
	OperatorEquals         ConditionOperator = "equals"
	OperatorNotEquals      ConditionOperator = "notEquals"
	OperatorGreaterThan    ConditionOperator = "greaterThan"
	OperatorLessThan       ConditionOperator = "lessThan"
	OperatorGreaterOrEqual ConditionOperator = "greaterOrEqual"
	OperatorLessOrEqual    ConditionOperator = "lessOrEqual"
	OperatorContains       ConditionOperator = "contains"
	OperatorNotContains    ConditionOperator = "notContains"
	OperatorStartsWith     ConditionOperator = "startsWith"
	OperatorEndsWith       ConditionOperator = "endsWith"
	OperatorIsEmpty        ConditionOperator = "isEmpty"
	OperatorIsNotEmpty     ConditionOperator = "isNotEmpty"
)

type ConditionMode string

const (
	ConditionModeAll ConditionMode = "all"
	ConditionModeAny ConditionMode = "any"
)

type ConditionClause struct {
	Variable string            `json:"variable"`
	Operator ConditionOperator `json:"operator"`
	Value    any               `json:"value,omitempty"`
}

type ConditionConfig struct {
	Conditions []ConditionClause `json:"conditions"`
	Mode       ConditionMode     `json:"mode,omitempty"`
}

type HTTPBodyType string

const (
	HTTPBodyJSON HTTPBodyType = "json"
	HTTPBodyForm HTTPBodyType = "form"
	HTTPBodyText HTTPBodyType = "text"
	HTTPBodyNone HTTPBodyType = "none"
)

type HTTPBody struct {
	Type    HTTPBodyType `json:"type"`
	Content any          `json:"content,omitempty"`
}

type HTTPAuthType string

const (
	HTTPAuthBasic  HTTPAuthType = "basic"
	HTTPAuthBearer HTTPAuthType = "bearer"
	HTTPAuthAPIKey HTTPAuthType = "apikey"
)

type HTTPAuth struct {
	Type     HTTPAuthType `json:"type"`
	Username string       `json:"username,omitempty"`
	Password string       `json:"password,omitempty"`
	Token    string       `json:"token,omitempty"`
	Key      string       `json:"key,omitempty"`
	Value    string       `json:"value,omitempty"`
	// "header" (default) or "query"
	In string `json:"in,omitempty"`
}

type HTTPRetry struct {
	MaxRetries *int  `json:"maxRetries,omitempty"`
	RetryDelay int   `json:"retryDelay,omitempty"`
	RetryOn    []int `json:"retryOn,omitempty"`
}

type HTTPConfig struct {
	Method      string            `json:"method"`
	URL         string            `json:"url"`
	Headers     map[string]string `json:"headers,omitempty"`
	QueryParams map[string]string `json:"queryParams,omitempty"`
	Body        *HTTPBody         `json:"body,omitempty"`
	Auth        *HTTPAuth         `json:"auth,omitempty"`
	// Milliseconds.
	Timeout      int        `json:"timeout,omitempty"`
	Retry        *HTTPRetry `json:"retry,omitempty"`
	ResponseType string     `json:"responseType,omitempty"`
}

type LogicMode string

const (
	LogicModeMerge LogicMode = "merge"
	LogicModeFirst LogicMode = "first"
)

type LogicConfig struct {
	Mode LogicMode `json:"mode,omitempty"`
}

// AudioConfig transcribes a media file and optionally analyses the transcript.
type AudioConfig struct {
	AudioURL string `json:"audioUrl"`
	Language string `json:"language,omitempty"`
	// Analysis prompt, {{transcript}} is replaced with the transcription.
	Prompt   string `json:"prompt,omitempty"`
	Provider string `json:"provider,omitempty"`
	Model    string `json:"model,omitempty"`
	MaxBytes int64  `json:"maxBytes,omitempty"`
}
