package service

import (
	"fmt"
	"strings"

	"github.com/clearpath-ai/texcare-backend/internal/model"
)

// LocationAnswer builds the fixed referral response for location_search
// queries. Facility lookup is out of the corpus; the user is pointed at the
// state search portal instead.
func LocationAnswer(query string) (answer string, sources []model.CitedSource) {
	place := extractPlace(query)

	var sb strings.Builder
	sb.WriteString("To find licensed childcare providers")
	if place != "" {
		fmt.Fprintf(&sb, " near %s", place)
	}
	sb.WriteString(", use the Texas Child Care Availability Portal at https://find.childcare.texas.gov — ")
	sb.WriteString("you can filter by location, age group, and Texas Rising Star quality rating. ")
	sb.WriteString("You can also call 2-1-1 Texas for local referrals, or contact your Local Workforce Development Board ")
	sb.WriteString("to ask which providers accept Child Care Services (CCS) subsidies.")

	return sb.String(), []model.CitedSource{}
}

// extractPlace pulls a trailing "near/in/around X" phrase from the query.
// Best effort; an empty result just drops the phrase from the answer.
func extractPlace(query string) string {
	lower := strings.ToLower(query)
	for _, marker := range []string{" near ", " in ", " around ", " close to "} {
		if idx := strings.LastIndex(lower, marker); idx >= 0 {
			place := strings.TrimSpace(query[idx+len(marker):])
			place = strings.TrimRight(place, "?.!")
			if place != "" && len(place) < 80 {
				return place
			}
		}
	}
	return ""
}
