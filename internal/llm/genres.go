package llm

import "sort"

// Profile is what the offline interpreter knows about a genre.
type Profile struct {
	Name        string
	Aliases     []string // extra words that select this genre
	Tempo       int
	Mood        string
	Key         string
	Instruments []string
	Tips        []string
	Adjacent    []string // neighbouring genres, used for suggestions
	Adjectives  []string // pool for rendition names
}

// Profiles maps genre names to their profile.
var Profiles = map[string]*Profile{
	"ambient": {
		Name: "ambient", Tempo: 70, Mood: "peaceful", Key: "D major",
		Aliases:     []string{"drone", "meditation", "soundscape"},
		Instruments: []string{"synth pad", "texture", "bells"},
		Tips:        []string{"Use long reverb tails on the pads", "Keep percussion minimal or absent"},
		Adjacent:    []string{"chillwave", "classical"},
		Adjectives:  []string{"floating", "weightless", "still", "glacial", "infinite"},
	},
	"chillwave": {
		Name: "chillwave", Tempo: 95, Mood: "dreamy", Key: "F major",
		Aliases:     []string{"dreamy", "hazy"},
		Instruments: []string{"hazy synth", "drum machine", "bass"},
		Tips:        []string{"Add a slow delay to the lead", "Roll off the highs for a tape feel"},
		Adjacent:    []string{"ambient", "lofi hip hop", "classical", "synthwave"},
		Adjectives:  []string{"hazy", "sunlit", "faded", "dreamy", "pastel"},
	},
	"lofi hip hop": {
		Name: "lofi hip hop", Tempo: 80, Mood: "mellow", Key: "A minor",
		Aliases:     []string{"lofi", "lo-fi", "hip hop", "boom bap", "study"},
		Instruments: []string{"jazz piano", "boom bap drums", "warm bass"},
		Tips:        []string{"Compress the drums gently for glue", "Keep the piano chords behind the beat"},
		Adjacent:    []string{"chillwave", "jazz"},
		Adjectives:  []string{"rainy", "dusty", "warm", "mellow", "quiet"},
	},
	"jazz": {
		Name: "jazz", Tempo: 110, Mood: "smooth", Key: "Bb major",
		Aliases:     []string{"swing", "bebop", "trio"},
		Instruments: []string{"upright bass", "brushed drums", "piano"},
		Tips:        []string{"Let the bass walk on every beat", "Pan the piano slightly off centre"},
		Adjacent:    []string{"lofi hip hop", "bossa nova", "acoustic folk"},
		Adjectives:  []string{"smoky", "midnight", "velvet", "golden", "swinging"},
	},
	"bossa nova": {
		Name: "bossa nova", Tempo: 130, Mood: "relaxed", Key: "E minor",
		Aliases:     []string{"bossa", "brazilian", "samba"},
		Instruments: []string{"nylon guitar", "soft percussion", "upright bass"},
		Tips:        []string{"Keep the guitar syncopation light", "Use a short room reverb"},
		Adjacent:    []string{"jazz"},
		Adjectives:  []string{"coastal", "breezy", "gentle", "tropical", "swaying"},
	},
	"acoustic folk": {
		Name: "acoustic folk", Tempo: 100, Mood: "warm", Key: "G major",
		Aliases:     []string{"folk", "acoustic", "campfire"},
		Instruments: []string{"acoustic guitar", "harmonica", "double bass"},
		Tips:        []string{"Record the guitar dry and add reverb later", "Leave space between phrases"},
		Adjacent:    []string{"jazz"},
		Adjectives:  []string{"wooded", "fireside", "open", "rustic", "earthen"},
	},
	"classical": {
		Name: "classical", Tempo: 72, Mood: "contemplative", Key: "D minor",
		Aliases:     []string{"orchestral", "chamber", "quartet", "waltz"},
		Instruments: []string{"strings", "piano", "woodwinds"},
		Tips:        []string{"Avoid heavy compression to keep the dynamics", "Normalize the final mix rather than limiting it"},
		Adjacent:    []string{"ambient", "chillwave", "cinematic"},
		Adjectives:  []string{"delicate", "flowing", "stately", "luminous", "grand"},
	},
	"cinematic": {
		Name: "cinematic", Tempo: 90, Mood: "epic", Key: "C minor",
		Aliases:     []string{"film", "score", "soundtrack", "trailer", "epic"},
		Instruments: []string{"strings", "brass", "timpani"},
		Tips:        []string{"Build intensity with layered sustained notes", "Pan sections wide for a big stage"},
		Adjacent:    []string{"classical", "indie rock"},
		Adjectives:  []string{"epic", "soaring", "vast", "rising", "thundering"},
	},
	"synthwave": {
		Name: "synthwave", Tempo: 110, Mood: "nostalgic", Key: "A minor",
		Aliases:     []string{"retrowave", "outrun", "80s", "retro"},
		Instruments: []string{"analog synth", "arpeggiator", "electronic drums"},
		Tips:        []string{"Use sawtooth leads with a dotted delay", "Gate the reverb on the snare"},
		Adjacent:    []string{"chillwave", "electronic", "indie rock"},
		Adjectives:  []string{"neon", "chrome", "pulsing", "electric", "retro"},
	},
	"electronic": {
		Name: "electronic", Tempo: 120, Mood: "energetic", Key: "C minor",
		Aliases:     []string{"edm", "house", "techno", "dance", "club"},
		Instruments: []string{"synth", "drums", "bass"},
		Tips:        []string{"Start with a strong kick pattern", "Layer atmospheric pads underneath"},
		Adjacent:    []string{"synthwave", "drum and bass", "disco funk"},
		Adjectives:  []string{"radiant", "surging", "prismatic", "kinetic", "orbital"},
	},
	"drum and bass": {
		Name: "drum and bass", Tempo: 174, Mood: "intense", Key: "F minor",
		Aliases:     []string{"dnb", "jungle", "breakbeat"},
		Instruments: []string{"breakbeat drums", "sub bass", "synth pad"},
		Tips:        []string{"Keep the sub bass mono and centred", "Compress the breaks hard"},
		Adjacent:    []string{"electronic"},
		Adjectives:  []string{"liquid", "rolling", "dark", "charged", "relentless"},
	},
	"disco funk": {
		Name: "disco funk", Tempo: 118, Mood: "groovy", Key: "E minor",
		Aliases:     []string{"disco", "funk", "groove"},
		Instruments: []string{"rhythm guitar", "slap bass", "horns"},
		Tips:        []string{"Lock the bass to the kick", "Keep the guitar stabs short and bright"},
		Adjacent:    []string{"electronic", "rock"},
		Adjectives:  []string{"groovy", "sparkling", "tight", "strutting", "vivid"},
	},
	"indie rock": {
		Name: "indie rock", Tempo: 125, Mood: "optimistic", Key: "D major",
		Aliases:     []string{"indie", "alternative", "jangle"},
		Instruments: []string{"electric guitar", "drums", "bass"},
		Tips:        []string{"Double the guitars and pan them apart", "Use a slapback delay on the lead"},
		Adjacent:    []string{"cinematic", "synthwave", "rock"},
		Adjectives:  []string{"bright", "jangling", "wistful", "spirited", "raw"},
	},
	"rock": {
		Name: "rock", Tempo: 135, Mood: "powerful", Key: "E minor",
		Aliases:     []string{"metal", "punk", "guitar", "stadium"},
		Instruments: []string{"distorted guitar", "drums", "bass"},
		Tips:        []string{"Compress the drum bus for punch", "Leave room in the mids for the guitars"},
		Adjacent:    []string{"indie rock", "disco funk"},
		Adjectives:  []string{"thunderous", "blazing", "driven", "roaring", "massive"},
	},
}

// DefaultGenre is used when a prompt names no known genre.
const DefaultGenre = "electronic"

// GenreNames returns all genre names, sorted.
func GenreNames() []string {
	names := make([]string, 0, len(Profiles))
	for name := range Profiles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// IsValidGenre checks if a genre has a profile.
func IsValidGenre(name string) bool {
	_, ok := Profiles[name]
	return ok
}

// TrackName generates a human-readable name from genre and an id.
// The id is hashed to pick a deterministic adjective.
func TrackName(genre, id string) string {
	if genre == "" || id == "" {
		return ""
	}

	p := Profiles[genre]
	if p == nil || len(p.Adjectives) == 0 {
		return genre + " session"
	}

	var h int
	for i := 0; i < len(id) && i < 8; i++ {
		h = h*31 + int(id[i])
	}
	if h < 0 {
		h = -h
	}
	return p.Adjectives[h%len(p.Adjectives)] + " " + genre
}
