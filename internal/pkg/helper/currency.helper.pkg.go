package helper

import (
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

var idPrinter = message.NewPrinter(language.Indonesian)

// FormatIDR renders an integral rupiah amount with Indonesian digit grouping.
func FormatIDR(amount int64) string {
	return idPrinter.Sprintf("Rp%d", amount)
}
