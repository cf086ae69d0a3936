package models

// CountryEntry is one line of countries/index.json.
type CountryEntry struct {
	Code      string     `json:"code"`
	Name      string     `json:"name"`
	Years     []string   `json:"years"`
	AgeGroups int        `json:"age_groups"`
	Artifacts []Artifact `json:"artifacts,omitempty"`
}

// Artifact is one file written for a country.
type Artifact struct {
	Format string `json:"format"`
	Path   string `json:"path"`
	Bytes  int    `json:"bytes"`
	XXH3   string `json:"xxh3"`
}

// BucketSum is the population of an inclusive age range.
type BucketSum struct {
	From   int     `json:"from"`
	To     int     `json:"to"`
	Male   float64 `json:"male"`
	Female float64 `json:"female"`
}

// RunReport is printed by the CLI after an extraction.
type RunReport struct {
	Rows        int      `json:"rows"`
	Matched     int      `json:"matched"`
	Accumulated int      `json:"accumulated"`
	Flushes     int      `json:"flushes"`
	Countries   []string `json:"countries"`
	Elapsed     string   `json:"elapsed"`
}
