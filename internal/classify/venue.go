package classify

import (
	"fmt"
	"regexp"
)

// VenueArchetype is the kind of place an event happens in.
type VenueArchetype string

const (
	Auditorium     VenueArchetype = "auditorium"
	Classroom      VenueArchetype = "classroom"
	Laboratory     VenueArchetype = "laboratory"
	SportsFacility VenueArchetype = "sports_facility"
	OutdoorSpace   VenueArchetype = "outdoor_space"
	ConferenceHall VenueArchetype = "conference_hall"
	WorkshopSpace  VenueArchetype = "workshop_space"
	CulturalCenter VenueArchetype = "cultural_center"
	MultiPurpose   VenueArchetype = "multi_purpose"
	OnlinePlatform VenueArchetype = "online_platform"
)

// VenueTraits describe how easy a venue is to monitor and what happens there.
type VenueTraits struct {
	Capacity   string `json:"capacity"`
	Formality  string `json:"formality"`
	Activity   string `json:"activity"`
	Monitoring string `json:"monitoring"`
}

type venueProfile struct {
	archetype   VenueArchetype
	patterns    []*regexp.Regexp
	traits      VenueTraits
	suitability map[Strategy]float64
}

func patterns(exprs ...string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, len(exprs))
	for i, e := range exprs {
		out[i] = regexp.MustCompile(e)
	}
	return out
}

// venueProfiles is scanned in declaration order; that order breaks ties.
var venueProfiles = []venueProfile{
	{
		archetype: Auditorium,
		patterns:  patterns(`\bauditorium\b`, `\btheat(er|re)\b`, `\blecture hall\b`, `\bamphitheat(er|re)\b`),
		traits:    VenueTraits{Capacity: "large", Formality: "formal", Activity: "passive", Monitoring: "easy"},
		suitability: map[Strategy]float64{
			SingleMark: 1.0, SessionBased: 0.6, DayBased: 0.5, MilestoneBased: 0.3, Continuous: 0.1,
		},
	},
	{
		archetype: Classroom,
		patterns:  patterns(`\bclass ?room\b`, `\broom \d+\b`, `\btutorial room\b`, `\bseminar room\b`),
		traits:    VenueTraits{Capacity: "small", Formality: "semi_formal", Activity: "interactive", Monitoring: "easy"},
		suitability: map[Strategy]float64{
			SingleMark: 0.9, SessionBased: 0.7, DayBased: 0.7, MilestoneBased: 0.4, Continuous: 0.5,
		},
	},
	{
		archetype: Laboratory,
		patterns:  patterns(`\blab(oratory|oratories|s)?\b`, `\bcomputer (centre|center)\b`, `\bmakerspace\b`),
		traits:    VenueTraits{Capacity: "small", Formality: "semi_formal", Activity: "hands_on", Monitoring: "moderate"},
		suitability: map[Strategy]float64{
			SingleMark: 0.4, SessionBased: 0.8, DayBased: 0.7, MilestoneBased: 0.7, Continuous: 0.9,
		},
	},
	{
		archetype: SportsFacility,
		patterns:  patterns(`\b(stadium|gym|gymnasium|court|arena|pavilion)\b`, `\bsports? (complex|ground|hall|field)\b`, `\b(cricket|football|athletic) (ground|field|track)\b`),
		traits:    VenueTraits{Capacity: "large", Formality: "informal", Activity: "physical", Monitoring: "hard"},
		suitability: map[Strategy]float64{
			SingleMark: 0.5, SessionBased: 0.9, DayBased: 0.8, MilestoneBased: 0.4, Continuous: 0.2,
		},
	},
	{
		archetype: OutdoorSpace,
		patterns:  patterns(`\b(lawn|garden|courtyard|quad|quadrangle|outdoors?|open ground)\b`, `\bopen[- ]air\b`),
		traits:    VenueTraits{Capacity: "very_large", Formality: "informal", Activity: "mixed", Monitoring: "hard"},
		suitability: map[Strategy]float64{
			SingleMark: 0.6, SessionBased: 0.5, DayBased: 0.7, MilestoneBased: 0.5, Continuous: 0.1,
		},
	},
	{
		archetype: ConferenceHall,
		patterns:  patterns(`\bconference (hall|room|cent(er|re))\b`, `\bboard ?room\b`, `\bconvention\b`, `\bbanquet\b`, `\bsenate hall\b`),
		traits:    VenueTraits{Capacity: "medium", Formality: "formal", Activity: "interactive", Monitoring: "easy"},
		suitability: map[Strategy]float64{
			SingleMark: 0.8, SessionBased: 0.9, DayBased: 0.6, MilestoneBased: 0.4, Continuous: 0.2,
		},
	},
	{
		archetype: WorkshopSpace,
		patterns:  patterns(`\bworkshops?\b`, `\bstudio\b`, `\binnovation (hub|lab|cent(er|re))\b`, `\bincubat(or|ion cent(er|re))\b`),
		traits:    VenueTraits{Capacity: "medium", Formality: "informal", Activity: "hands_on", Monitoring: "moderate"},
		suitability: map[Strategy]float64{
			SingleMark: 0.3, SessionBased: 0.8, DayBased: 0.9, MilestoneBased: 0.7, Continuous: 0.5,
		},
	},
	{
		archetype: CulturalCenter,
		patterns:  patterns(`\bcultural (cent(er|re)|hall|complex)\b`, `\bgallery\b`, `\bmuseum\b`, `\bexhibition (hall|centre|center)\b`, `\bstage\b`),
		traits:    VenueTraits{Capacity: "large", Formality: "semi_formal", Activity: "mixed", Monitoring: "moderate"},
		suitability: map[Strategy]float64{
			SingleMark: 0.6, SessionBased: 0.6, DayBased: 0.6, MilestoneBased: 0.9, Continuous: 0.2,
		},
	},
	{
		archetype: MultiPurpose,
		patterns:  patterns(`\bmulti[- ]?purpose\b`, `\bcommon room\b`, `\bstudent (cent(er|re)|union)\b`, `\bhall\b`),
		traits:    VenueTraits{Capacity: "medium", Formality: "semi_formal", Activity: "mixed", Monitoring: "moderate"},
		suitability: map[Strategy]float64{
			SingleMark: 0.6, SessionBased: 0.6, DayBased: 0.6, MilestoneBased: 0.6, Continuous: 0.5,
		},
	},
	{
		archetype: OnlinePlatform,
		patterns:  patterns(`\b(online|virtual|remote|hybrid|webinar)\b`, `\b(zoom|google meet|ms teams|microsoft teams|webex)\b`),
		traits:    VenueTraits{Capacity: "very_large", Formality: "semi_formal", Activity: "remote", Monitoring: "hard"},
		suitability: map[Strategy]float64{
			SingleMark: 0.7, SessionBased: 0.7, DayBased: 0.5, MilestoneBased: 0.6, Continuous: 0.8,
		},
	},
}

// VenueAnalysis is the output of ClassifyVenue.
type VenueAnalysis struct {
	Archetype   VenueArchetype         `json:"archetype"`
	Traits      VenueTraits            `json:"traits"`
	Scores      map[VenueArchetype]int `json:"scores"`
	Matched     bool                   `json:"matched"`
	Suitability map[Strategy]float64   `json:"suitability"`
	Reasoning   string                 `json:"reasoning"`
}

// ClassifyVenue picks the venue archetype with the most pattern hits over the
// combined text. Ties go to the first declared archetype and a text without
// any hit is treated as multi-purpose. An explicit capacity overrides the
// archetype's typical capacity range.
func ClassifyVenue(text string, capacity *int) VenueAnalysis {
	text = normalize(text)
	scores := make(map[VenueArchetype]int, len(venueProfiles))
	best, bestScore := -1, 0
	for i, p := range venueProfiles {
		n := 0
		for _, re := range p.patterns {
			n += len(re.FindAllStringIndex(text, -1))
		}
		scores[p.archetype] = n
		if n > bestScore {
			best, bestScore = i, n
		}
	}

	analysis := VenueAnalysis{Scores: scores, Matched: best >= 0}
	profile := profileFor(MultiPurpose)
	if best >= 0 {
		profile = venueProfiles[best]
		analysis.Reasoning = fmt.Sprintf("venue looks like %s (%d pattern hits)", profile.archetype, bestScore)
	} else {
		analysis.Reasoning = "no venue pattern matched, assuming multi_purpose"
	}
	analysis.Archetype = profile.archetype
	analysis.Traits = profile.traits
	analysis.Suitability = copySuitability(profile.suitability)
	if capacity != nil && *capacity > 0 {
		analysis.Traits.Capacity = CapacityRange(*capacity)
	}
	return analysis
}

// CapacityRange buckets an explicit head count.
func CapacityRange(n int) string {
	switch {
	case n <= 50:
		return "small"
	case n <= 200:
		return "medium"
	case n <= 1000:
		return "large"
	default:
		return "very_large"
	}
}

func profileFor(a VenueArchetype) venueProfile {
	for _, p := range venueProfiles {
		if p.archetype == a {
			return p
		}
	}
	return venueProfile{archetype: a}
}

func copySuitability(in map[Strategy]float64) map[Strategy]float64 {
	out := make(map[Strategy]float64, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
