package memory

import "regexp"

type explicitPattern struct {
	method Method
	re     *regexp.Regexp
}

type implicitPattern struct {
	category   Category
	confidence float64
	re         *regexp.Regexp
}

type classifierHint struct {
	category Category
	re       *regexp.Regexp
}

// Explicit directives, English and Spanish. The captured group is the fact
// text. Forget patterns come after remember patterns so "don't remember"
// phrasings are not swallowed by the remember set.
var explicitPatterns = []explicitPattern{
	{MethodExplicitForget, regexp.MustCompile(`(?i)\b(?:forget|don't remember|do not remember)\s+(?:that\s+)?(.+)`)},
	{MethodExplicitForget, regexp.MustCompile(`(?i)\b(?:olvida|olvídate de|no recuerdes)\s+(?:que\s+)?(.+)`)},
	{MethodExplicitRemember, regexp.MustCompile(`(?i)\b(?:remember|keep in mind|note)\s+(?:that\s+)?(.+)`)},
	{MethodExplicitRemember, regexp.MustCompile(`(?i)\b(?:recuerda|ten en cuenta|anota)\s+(?:que\s+)?(.+)`)},
}

// Implicit signals by category. More specific phrasings carry higher base
// confidence; hedged phrasings ("I think I like") are deliberately weak so
// the judge escalates them under stricter guard levels.
var implicitPatterns = []implicitPattern{
	// profile: stated identity facts
	{CategoryProfile, 0.90, regexp.MustCompile(`(?i)\bmy name is\s+\S.*`)},
	{CategoryProfile, 0.90, regexp.MustCompile(`(?i)\bme llamo\s+\S.*`)},
	{CategoryProfile, 0.80, regexp.MustCompile(`(?i)\bI live in\s+\S.*`)},
	{CategoryProfile, 0.80, regexp.MustCompile(`(?i)\bvivo en\s+\S.*`)},
	{CategoryProfile, 0.70, regexp.MustCompile(`(?i)\bI(?:'m| am) an?\s+\S.*`)},
	{CategoryProfile, 0.70, regexp.MustCompile(`(?i)\bsoy\s+(?:un|una)\s+\S.*`)},
	{CategoryProfile, 0.75, regexp.MustCompile(`(?i)\bI work (?:at|as|for)\s+\S.*`)},
	{CategoryProfile, 0.75, regexp.MustCompile(`(?i)\btrabajo (?:en|como|para)\s+\S.*`)},

	// preference: stated likes and dislikes
	{CategoryPreference, 0.50, regexp.MustCompile(`(?i)\bI think I like\s+\S.*`)},
	{CategoryPreference, 0.85, regexp.MustCompile(`(?i)\bI prefer\s+\S.*`)},
	{CategoryPreference, 0.85, regexp.MustCompile(`(?i)\bprefiero\s+\S.*`)},
	{CategoryPreference, 0.80, regexp.MustCompile(`(?i)\bI love\s+\S.*`)},
	{CategoryPreference, 0.80, regexp.MustCompile(`(?i)\bme encanta\s+\S.*`)},
	{CategoryPreference, 0.70, regexp.MustCompile(`(?i)\bI like\s+\S.*`)},
	{CategoryPreference, 0.70, regexp.MustCompile(`(?i)\bme gusta\s+\S.*`)},
	{CategoryPreference, 0.75, regexp.MustCompile(`(?i)\bI (?:hate|dislike|can't stand)\s+\S.*`)},
	{CategoryPreference, 0.75, regexp.MustCompile(`(?i)\b(?:odio|no me gusta)\s+\S.*`)},

	// ownership: stated possessions and relationships
	{CategoryOwnership, 0.70, regexp.MustCompile(`(?i)\bI have an?\s+\S.*`)},
	{CategoryOwnership, 0.70, regexp.MustCompile(`(?i)\btengo (?:un|una)\s+\S.*`)},
	{CategoryOwnership, 0.65, regexp.MustCompile(`(?i)\bI own\s+\S.*`)},
	{CategoryOwnership, 0.65, regexp.MustCompile(`(?i)\bmy (?:wife|husband|partner|dog|cat|car|house|son|daughter)\b.*`)},
	{CategoryOwnership, 0.65, regexp.MustCompile(`(?i)\bmi (?:esposa|esposo|pareja|perro|gato|coche|casa|hijo|hija)\b.*`)},
}

// classifierHints categorize explicit directive text. Checked in order;
// first match wins.
var classifierHints = []classifierHint{
	{CategoryPreference, regexp.MustCompile(`(?i)\b(prefer|like|love|hate|dislike|favorite|prefiero|gusta|encanta|odio)\b`)},
	{CategoryProfile, regexp.MustCompile(`(?i)\b(name is|i am|i'm|live in|work|born|llamo|soy|vivo|trabajo)\b`)},
	{CategoryOwnership, regexp.MustCompile(`(?i)\b(have|own|my|tengo|mi|mis)\b`)},
}
