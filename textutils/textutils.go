// Package textutils holds the small string/rune constants shared across the
// rest of this module's packages (l3, codec, turbo, config, errutils) to
// avoid scattering string literals for common delimiters and sentinels.
package textutils

// Common string constants.
const (
	EmptyStr        = ""
	WhiteSpaceStr   = " "
	ForwardSlashStr = "/"
	PeriodStr       = "."
	ColonStr        = ":"
	SemiColonStr    = ";"
	EqualStr        = "="
	CloseBraceStr   = "}"
	NewLineString   = "\n"
)

// Common rune constants.
const (
	OpenBraceChar    = '{'
	CloseBraceChar   = '}'
	ColonChar        = ':'
	ForwardSlashChar = '/'
	DollarChar       = '$'
	BackSlashChar    = '\\'
	HashChar         = '#'
	EqualChar        = '='
)
