package constants

const (
	// Commands.
	AntiSpamCommandName = "antispam"

	// Embed colors.
	DefaultEmbedColor  = 0x0099FF
	SuccessEmbedColor  = 0x00FF00
	ErrorEmbedColor    = 0xFF0000
	WarningEmbedColor  = 0xFFA500
	SecurityEmbedColor = 0x0000FF
)
