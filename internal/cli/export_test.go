package cli

// Export internal functions for testing.

// RunExport exports runExport for testing.
var RunExport = runExport

// ParseExportOptions exports parseExportOptions for testing.
var ParseExportOptions = parseExportOptions

// ExportFlags exports exportFlags for testing.
type ExportFlags = exportFlags

// ApplyConfig exports applyConfig for testing.
var ApplyConfig = applyConfig

// RunConfigSet exports runConfigSet for testing.
var RunConfigSet = runConfigSet

// RunConfigGet exports runConfigGet for testing.
var RunConfigGet = runConfigGet

// RunConfigList exports runConfigList for testing.
var RunConfigList = runConfigList

// IsValidConfigKey exports isValidConfigKey for testing.
var IsValidConfigKey = isValidConfigKey
