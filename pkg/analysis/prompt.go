package analysis

import (
	"fmt"
	"strings"

	"github.com/SUIXIN531/Monitor/pkg/models"
)

// BuildPrompt renders the market snapshot and task for the model.
func BuildPrompt(state models.CoinState, lang models.Language) string {
	var spot, uMark, uFunding, cMark, cFunding float64
	if state.Spot != nil {
		spot = state.Spot.Price
	}
	if state.UMargined != nil {
		uMark, uFunding = state.UMargined.MarkPrice, state.UMargined.FundingRate
	}
	if state.CoinMargined != nil {
		cMark, cFunding = state.CoinMargined.MarkPrice, state.CoinMargined.FundingRate
	}
	var daily, yearly float64
	borrowable := "No"
	if state.Borrow != nil {
		daily, yearly = state.Borrow.DailyInterestRate, state.Borrow.YearlyInterestRate
		if state.Borrow.IsBorrowable {
			borrowable = "Yes"
		}
	}

	langInstruction := "Provide the response in English."
	if lang == models.LangChinese {
		langInstruction = "Provide the response in Simplified Chinese. For the 'riskLevel' field, keep the value strictly as 'Low', 'Medium', or 'High' (in English), but explain risks in Chinese in the recommendation."
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Analyze the arbitrage opportunity for %s on Binance.\n\n", state.Symbol)
	b.WriteString("Market Data:\n")
	fmt.Fprintf(&b, "- Spot Price: %g\n", spot)
	fmt.Fprintf(&b, "- USDT-M Futures Price: %g (Funding Rate: %.4f%%)\n", uMark, uFunding*100)
	fmt.Fprintf(&b, "- Coin-M Futures Price: %g (Funding Rate: %.4f%%)\n\n", cMark, cFunding*100)
	b.WriteString("Borrow Data (for Reverse Arbitrage):\n")
	fmt.Fprintf(&b, "- Borrowable: %s\n", borrowable)
	fmt.Fprintf(&b, "- Daily Borrow Interest: %.4f%%\n", daily*100)
	fmt.Fprintf(&b, "- Annualized Borrow Interest: %.2f%%\n\n", yearly*100)
	b.WriteString("Task:\n")
	b.WriteString("1. Check for Cash-and-Carry (Long Spot, Short Future): profit from a positive funding rate and a future above spot.\n")
	b.WriteString("2. Check for Reverse Cash-and-Carry (Short Spot, Long Future): profit from a negative funding rate and spot above the future. ")
	fmt.Fprintf(&b, "Subtract the annualized borrow interest (%.2f%%) from the gross yield. If not borrowable, this strategy is impossible.\n\n", yearly*100)
	b.WriteString("Analyze the best strategy.\n\n")
	b.WriteString(langInstruction)
	b.WriteString("\n\nOutput JSON with fields: recommendation (short summary), strategy (detailed steps, say whether Reverse or Regular), ")
	b.WriteString("riskLevel (EXACTLY 'Low', 'Medium', or 'High'), estimatedYield (e.g. \"15% APR\" or \"Net -2% (Loss)\").\n")
	return b.String()
}
