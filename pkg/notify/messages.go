package notify

import (
	"fmt"
	"strings"

	"github.com/SUIXIN531/Monitor/pkg/models"
)

// VolatilityAlert builds the alert for a price move within the window.
func VolatilityAlert(app, symbol string, percent, threshold float64, minutes int) Alert {
	symbol = strings.ToUpper(symbol)
	return Alert{
		Symbol:    symbol,
		Kind:      models.AlertVolatility,
		Title:     fmt.Sprintf("%s: %s Volatility!", app, symbol),
		Body:      fmt.Sprintf("%s moved %.2f%% within %d minutes", symbol, percent, minutes),
		Tag:       "vol-alert-" + symbol,
		Value:     percent,
		Threshold: threshold,
	}
}

// SpreadAlert builds the alert for a spot/future spread crossing.
func SpreadAlert(app, symbol string, percent, threshold float64) Alert {
	symbol = strings.ToUpper(symbol)
	return Alert{
		Symbol:    symbol,
		Kind:      models.AlertSpread,
		Title:     fmt.Sprintf("%s: %s Alert", app, symbol),
		Body:      fmt.Sprintf("%s spread reached %.2f%%", symbol, percent),
		Tag:       "arb-alert-" + symbol,
		Value:     percent,
		Threshold: threshold,
	}
}
