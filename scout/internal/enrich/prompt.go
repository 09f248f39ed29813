package enrich

import (
	"strings"
	"unicode/utf8"
)

// maxPromptRunes bounds the post text embedded in the prompt.
const maxPromptRunes = 4000

const promptTemplate = `You are a financial social-media analyst. Analyze the post below and answer with ONE JSON object and nothing else.

The object must have exactly these fields:
{
  "is_stock_related": true or false,
  "stock_related_confidence": number between 0 and 1,
  "stock_related_reason": short string,
  "sentiment": "bullish" or "bearish" or "neutral",
  "sentiment_confidence": number between 0 and 1,
  "reasoning": one sentence explaining the sentiment,
  "tickers": list of stock ticker symbols mentioned or clearly implied (e.g. "AAPL"), empty list if none,
  "tags": up to 5 short lowercase topic tags,
  "summary": one-sentence summary in English,
  "trading_action": "buy" or "sell" or "hold" or null,
  "trading_tickers": tickers the trading action applies to,
  "trading_confidence": number between 0 and 1
}

Post:
"""
{{TEXT}}
"""`

// BuildPrompt renders the analysis prompt for one post.
func BuildPrompt(text string) string {
	text = strings.TrimSpace(text)
	if utf8.RuneCountInString(text) > maxPromptRunes {
		r := []rune(text)
		text = string(r[:maxPromptRunes])
	}
	text = strings.ReplaceAll(text, `"""`, `"'"`)
	return strings.Replace(promptTemplate, "{{TEXT}}", text, 1)
}
