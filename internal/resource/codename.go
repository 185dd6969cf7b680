package resource

import (
	"fmt"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/oresults/oresults/internal/document"
	"github.com/oresults/oresults/internal/validate"
)

const maxInitials = 6

// Codename builds a course code from the initials of its name, the unpadded
// map date, and a four-digit suffix, e.g. "ls201631-4821".
func Codename(name string, mapdate time.Time, suffix int) string {
	var b strings.Builder
	for _, word := range strings.Fields(strings.ToLower(name)) {
		if b.Len() == maxInitials {
			break
		}
		if c := word[0]; c >= 'a' && c <= 'z' {
			b.WriteByte(c)
		}
	}
	if b.Len() == 0 {
		b.WriteByte('c')
	}
	fmt.Fprintf(&b, "%d%d%d-%04d", mapdate.Year(), int(mapdate.Month()), mapdate.Day(), suffix)
	return b.String()
}

func randomSuffix() int {
	return 1000 + rand.IntN(9000)
}

func courseDefaults(doc document.Document) {
	if s, ok := doc["codename"].(string); ok && strings.TrimSpace(s) != "" {
		return
	}
	name, ok := doc["name"].(string)
	if !ok {
		return
	}
	mapdate, ok := validate.ParseDate(doc["mapdate"])
	if !ok {
		return
	}
	doc["codename"] = Codename(name, mapdate.UTC(), randomSuffix())
}
