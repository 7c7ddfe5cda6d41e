package errx

// RegistryEntry describes a registered error code.
type RegistryEntry struct {
	Code        string
	Description string
}

// Error codes follow a stable 5-digit scheme where the first two digits are the
// domain and the last three digits are reserved for subcodes.
const (
	CodeValidation    = "70000"
	CodeExecution     = "71000"
	CodeRegistry      = "72000"
	CodeDeployment    = "73000"
	CodeHistory       = "74000"
	CodeAuthorization = "75000"
	CodeCatalog       = "76000"
	CodeCLI           = "78000"
	CodeConfig        = "79000"
)

const (
	DescValidation    = "Command/image validation error"
	DescExecution     = "Command execution error"
	DescRegistry      = "Registry query error"
	DescDeployment    = "Deployment query error"
	DescHistory       = "History/audit store error"
	DescAuthorization = "Authorization/elevation error"
	DescCatalog       = "Image catalog error"
	DescCLI           = "CLI/argument validation error"
	DescConfig        = "Configuration error"
)

var registryEntries = []RegistryEntry{
	{Code: CodeValidation, Description: DescValidation},
	{Code: CodeExecution, Description: DescExecution},
	{Code: CodeRegistry, Description: DescRegistry},
	{Code: CodeDeployment, Description: DescDeployment},
	{Code: CodeHistory, Description: DescHistory},
	{Code: CodeAuthorization, Description: DescAuthorization},
	{Code: CodeCatalog, Description: DescCatalog},
	{Code: CodeCLI, Description: DescCLI},
	{Code: CodeConfig, Description: DescConfig},
}

var registeredCodes = func() map[string]bool {
	m := make(map[string]bool, len(registryEntries))
	for _, entry := range registryEntries {
		m[entry.Code] = true
	}
	return m
}()

// IsValidCode checks if the given error code is registered.
func IsValidCode(code string) bool {
	return registeredCodes[code]
}
