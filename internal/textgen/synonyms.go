package textgen

// HealthSynonyms maps everyday wording to the vocabulary used in personal
// data package descriptions. Entries are ordered by preference.
var HealthSynonyms = map[string][]string{
	// Cardio
	"heart":     {"cardiac", "pulse"},
	"pulse":     {"heart rate", "bpm"},
	"bpm":       {"heart rate", "pulse"},
	"cardio":    {"aerobic", "cardiovascular"},
	"hrv":       {"heart rate variability"},
	"blood":     {"circulatory"},
	"pressure":  {"hypertension", "bp"},

	// Activity
	"steps":    {"step count", "walking"},
	"walking":  {"steps", "walk"},
	"running":  {"run", "jogging"},
	"run":      {"running", "jog"},
	"exercise": {"workout", "activity", "training"},
	"workout":  {"exercise", "training"},
	"activity": {"exercise", "movement"},
	"fitness":  {"exercise", "workout"},
	"calories": {"energy expenditure", "kcal"},

	// Sleep
	"sleep":    {"rest", "slumber"},
	"rest":     {"sleep", "recovery"},
	"insomnia": {"sleep disorder", "sleeplessness"},

	// Nutrition
	"diet":      {"nutrition", "food intake", "meals"},
	"food":      {"nutrition", "meals", "diet"},
	"nutrition": {"diet", "food"},
	"weight":    {"body mass", "bmi"},
	"glucose":   {"blood sugar"},
	"sugar":     {"glucose"},

	// Finance and behaviour
	"spending":     {"purchases", "transactions", "expenses"},
	"purchases":    {"transactions", "spending"},
	"transactions": {"purchases", "payments"},
	"location":     {"gps", "geolocation", "places"},
	"browsing":     {"web history", "visits"},
	"mood":         {"emotion", "wellbeing"},
	"stress":       {"anxiety", "tension"},
}
