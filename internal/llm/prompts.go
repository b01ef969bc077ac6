package llm

import (
	"fmt"
	"strings"
	"time"
)

// SystemPrompt instructs the model to answer with the summary object only.
const SystemPrompt = "You are a food-service cost analyst. Respond with JSON only. No markdown. " +
	`Output must be an object with keys "headline" (string), "totalCost" (number), ` +
	`"costPerMeal" (number), "highlights" (array of strings) and "risks" (array of strings).`

// UserPrompt renders the scope and menu snapshot for the model.
func UserPrompt(input AnalyzeInput) string {
	menu := strings.TrimSpace(string(input.Menu))
	if menu == "" || menu == "null" {
		menu = "[]"
	}
	return fmt.Sprintf("Institution: %s\nPeriod: %s %d\n\nMenu snapshot (JSON):\n%s",
		input.Institution, monthName(input.Month), input.Year, menu)
}

func monthName(month int) string {
	if month < 0 || month > 11 {
		return fmt.Sprintf("month %d", month)
	}
	return time.Month(month + 1).String()
}
