package executor

import (
	"fmt"
	"math/rand"
)

// Randomized form values for checkout flows that demand identity data
// before showing a shipping price. The pools mix German and Dutch entries
// because that is where the supplier shops live.

var (
	randomFirstNames = []string{
		"Hans", "Klaus", "Peter", "Michael", "Thomas", "Stefan", "Martin",
		"Anna", "Maria", "Petra", "Sabine", "Claudia",
		"Jan", "Piet", "Willem", "Hendrik", "Sara", "Emma", "Sophie",
	}
	randomLastNames = []string{
		"Müller", "Schmidt", "Schneider", "Fischer", "Weber", "Becker",
		"Jansen", "de Vries", "van den Berg", "Bakker", "Visser", "de Boer",
	}
	randomStreets = []string{
		"Hauptstraße", "Bahnhofstraße", "Gartenstraße", "Kirchstraße",
		"Dorfstraße", "Lindenstraße", "Poststraße",
	}
	randomCities = []string{
		"Berlin", "Hamburg", "München", "Köln", "Frankfurt",
		"Amsterdam", "Rotterdam", "Utrecht", "Eindhoven",
	}
	randomEmailDomains = []string{
		"gmail.com", "outlook.com", "hotmail.com", "gmx.de", "web.de",
	}
	randomTerms = []string{
		"test", "sample", "example", "demo", "review", "check",
	}
	randomPhonePrefixes = []string{
		"0151", "0152", "0157", "0160", "0170", "0171", "0172",
	}
)

// randomValue produces a value for an input step with randomize set. The
// randomType names match the configuration editor's choices; anything
// unknown falls back to a generic term.
func randomValue(rng *rand.Rand, randomType string) string {
	pick := func(pool []string) string { return pool[rng.Intn(len(pool))] }

	switch randomType {
	case "First Name":
		return pick(randomFirstNames)
	case "Last Name":
		return pick(randomLastNames)
	case "Email Address":
		return fmt.Sprintf("%s.%s%d@%s",
			lower(pick(randomFirstNames)), lower(pick(randomLastNames)),
			rng.Intn(999)+1, pick(randomEmailDomains))
	case "Street":
		return pick(randomStreets)
	case "City":
		return pick(randomCities)
	case "Phone Number":
		n := pick(randomPhonePrefixes)
		for i := 0; i < 8; i++ {
			n += fmt.Sprintf("%d", rng.Intn(10))
		}
		return n
	case "Postal Code":
		return fmt.Sprintf("%d", 10000+rng.Intn(90000))
	case "House Number":
		return fmt.Sprintf("%d", 1+rng.Intn(999))
	default:
		return pick(randomTerms)
	}
}

func lower(s string) string {
	out := make([]rune, 0, len(s))
	for _, r := range s {
		if r >= 'A' && r <= 'Z' {
			r += 'a' - 'A'
		}
		// Drop anything outside plain ASCII letters so emails stay valid.
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			out = append(out, r)
		}
	}
	return string(out)
}
