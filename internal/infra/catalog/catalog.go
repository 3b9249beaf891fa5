// Package catalog loads the static track catalog from YAML.
package catalog

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"
	"github.com/samber/lo"
	"gopkg.in/yaml.v3"

	"github.com/osa030/nowplaying/internal/domain/track"
	zlog "github.com/rs/zerolog/log"
)

// ErrDuplicateTrack is returned when two entries share an ID.
var ErrDuplicateTrack = errors.New("duplicate track id")

// Options controls how entries are resolved.
type Options struct {
	BaseDir    string // directory relative resource paths are resolved against
	EnrichTags bool   // fill missing album/genre/year from the audio file's tags
}

// entry is one catalog record as written in YAML.
type entry struct {
	ID       string        `mapstructure:"id" validate:"required"`
	Title    string        `mapstructure:"title" validate:"required"`
	Artist   string        `mapstructure:"artist" validate:"required"`
	Album    string        `mapstructure:"album"`
	Duration time.Duration `mapstructure:"duration" validate:"gte=0"`
	Audio    string        `mapstructure:"audio" validate:"required"`
	Cover    string        `mapstructure:"cover"`
	Genre    string        `mapstructure:"genre"`
	Year     int           `mapstructure:"year" validate:"gte=0"`
}

type document struct {
	Tracks []map[string]any `yaml:"tracks"`
}

// Catalog is an ordered, read-only collection of tracks.
type Catalog struct {
	tracks []track.Track
	index  map[string]int
}

// New builds a catalog from tracks, rejecting duplicate IDs.
func New(tracks []track.Track) (*Catalog, error) {
	c := &Catalog{
		tracks: make([]track.Track, 0, len(tracks)),
		index:  make(map[string]int, len(tracks)),
	}
	for _, t := range tracks {
		if _, ok := c.index[t.ID]; ok {
			return nil, errors.Wrapf(ErrDuplicateTrack, "id=%s", t.ID)
		}
		c.index[t.ID] = len(c.tracks)
		c.tracks = append(c.tracks, t)
	}
	return c, nil
}

// Load reads a catalog file. Relative resources resolve against the file's directory.
func Load(path string, enrichTags bool) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read catalog file")
	}
	return Parse(data, Options{
		BaseDir:    filepath.Dir(path),
		EnrichTags: enrichTags,
	})
}

// Parse decodes a catalog document.
func Parse(data []byte, opts Options) (*Catalog, error) {
	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, errors.Wrap(err, "failed to parse catalog")
	}

	validate := validator.New()
	tracks := make([]track.Track, 0, len(doc.Tracks))
	for i, raw := range doc.Tracks {
		e, err := decodeEntry(raw)
		if err != nil {
			return nil, errors.Wrapf(err, "track #%d", i+1)
		}
		if err := validate.Struct(e); err != nil {
			return nil, errors.Wrapf(err, "track #%d", i+1)
		}

		t := track.Track{
			ID:       e.ID,
			Title:    e.Title,
			Artist:   e.Artist,
			Album:    e.Album,
			Duration: e.Duration,
			Audio:    resolve(opts.BaseDir, e.Audio),
			Cover:    resolve(opts.BaseDir, e.Cover),
			Genre:    e.Genre,
			Year:     e.Year,
		}
		if opts.EnrichTags {
			enrich(&t)
		}
		tracks = append(tracks, t)
	}

	c, err := New(tracks)
	if err != nil {
		return nil, err
	}
	zlog.Info().Msgf("catalog: loaded tracks=%d", c.Len())
	return c, nil
}

func decodeEntry(raw map[string]any) (entry, error) {
	var e entry
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &e,
		TagName:          "mapstructure",
		DecodeHook:       mapstructure.DecodeHookFuncType(durationHook),
		WeaklyTypedInput: true,
		ErrorUnused:      true,
	})
	if err != nil {
		return e, errors.Wrap(err, "failed to create decoder")
	}
	if err := decoder.Decode(raw); err != nil {
		return e, errors.Wrap(err, "failed to decode track")
	}
	return e, nil
}

var durationType = reflect.TypeOf(time.Duration(0))

// durationHook accepts "M:SS" strings or integer milliseconds.
func durationHook(from reflect.Type, to reflect.Type, data any) (any, error) {
	if to != durationType {
		return data, nil
	}

	v := reflect.ValueOf(data)
	switch from.Kind() {
	case reflect.String:
		s := strings.TrimSpace(v.String())
		if s == "" {
			return time.Duration(0), nil
		}
		return track.ParseDuration(s)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return track.FromMillis(v.Int()), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return track.FromMillis(int64(v.Uint())), nil
	case reflect.Float32, reflect.Float64:
		return track.FromMillis(int64(v.Float())), nil
	default:
		return nil, errors.Newf("unsupported duration type %s", from)
	}
}

// resolve joins relative file references onto base. URLs and absolute paths
// are kept as written.
func resolve(base, ref string) track.Resource {
	if ref == "" || base == "" || filepath.IsAbs(ref) || strings.Contains(ref, "://") {
		return track.Resource(ref)
	}
	return track.Resource(filepath.Join(base, ref))
}

// Tracks returns all tracks in catalog order.
func (c *Catalog) Tracks() []track.Track {
	return append([]track.Track(nil), c.tracks...)
}

// ByID returns a copy of the track with id.
func (c *Catalog) ByID(id string) (*track.Track, bool) {
	i, ok := c.index[id]
	if !ok {
		return nil, false
	}
	t := c.tracks[i]
	return &t, true
}

// ByGenre returns the tracks of genre, case-insensitive, in catalog order.
func (c *Catalog) ByGenre(genre string) []track.Track {
	return lo.Filter(c.tracks, func(t track.Track, _ int) bool {
		return t.IsGenre(genre)
	})
}

// Genres returns the distinct genres in first-seen order.
func (c *Catalog) Genres() []string {
	genres := lo.FilterMap(c.tracks, func(t track.Track, _ int) (string, bool) {
		return t.Genre, t.Genre != ""
	})
	return lo.Uniq(genres)
}

// Len returns the number of tracks.
func (c *Catalog) Len() int {
	return len(c.tracks)
}
