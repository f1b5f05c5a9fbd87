package models

type RiskLevel string

const (
	RiskLow    RiskLevel = "Low"
	RiskMedium RiskLevel = "Medium"
	RiskHigh   RiskLevel = "High"
)

// ParseRiskLevel maps free text to one of the three risk levels. Anything
// unrecognised is treated as High.
func ParseRiskLevel(s string) RiskLevel {
	switch RiskLevel(s) {
	case RiskLow, RiskMedium, RiskHigh:
		return RiskLevel(s)
	}
	return RiskHigh
}

type Language string

const (
	LangEnglish Language = "en"
	LangChinese Language = "zh"
)

func ParseLanguage(s string) Language {
	if Language(s) == LangChinese {
		return LangChinese
	}
	return LangEnglish
}

// Analysis is the strategy recommendation returned by the analysis service.
type Analysis struct {
	Symbol         string    `json:"symbol"`
	Recommendation string    `json:"recommendation"`
	Strategy       string    `json:"strategy"`
	RiskLevel      RiskLevel `json:"riskLevel"`
	EstimatedYield string    `json:"estimatedYield"`
}
