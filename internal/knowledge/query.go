package knowledge

import "strings"

// EntityMatch is one query hit: the entity and the observations that matched
// (all of them when the name or type matched directly).
type EntityMatch struct {
	Entity       string   `json:"entity"`
	Type         string   `json:"type"`
	Observations []string `json:"observations"`
}

// QueryResult groups hits by kind.
type QueryResult struct {
	Entities  []EntityMatch `json:"entities"`
	Relations []Relation    `json:"relations"`
}

// Query performs case-insensitive substring search over entity names, types,
// observations, and relation components.
func (g *Graph) Query(q string) QueryResult {
	needle := strings.ToLower(q)
	var result QueryResult

	for name, e := range g.Entities {
		if strings.Contains(strings.ToLower(name), needle) ||
			strings.Contains(strings.ToLower(e.EntityType), needle) {
			result.Entities = append(result.Entities, EntityMatch{
				Entity:       name,
				Type:         e.EntityType,
				Observations: e.Observations,
			})
			continue
		}
		var matching []string
		for _, o := range e.Observations {
			if strings.Contains(strings.ToLower(o), needle) {
				matching = append(matching, o)
			}
		}
		if len(matching) > 0 {
			result.Entities = append(result.Entities, EntityMatch{
				Entity:       name,
				Type:         e.EntityType,
				Observations: matching,
			})
		}
	}

	for _, r := range g.Relations {
		if strings.Contains(strings.ToLower(r.From), needle) ||
			strings.Contains(strings.ToLower(r.Type), needle) ||
			strings.Contains(strings.ToLower(r.To), needle) {
			result.Relations = append(result.Relations, r)
		}
	}

	return result
}
