package catalog

import (
	"os"
	"strings"

	"github.com/dhowden/tag"

	"github.com/osa030/nowplaying/internal/domain/track"
	zlog "github.com/rs/zerolog/log"
)

// enrich fills album, genre and year from the audio file's tags when the
// catalog leaves them empty. Unreadable files are skipped.
func enrich(t *track.Track) {
	if t.Album != "" && t.Genre != "" && t.Year != 0 {
		return
	}
	if strings.Contains(string(t.Audio), "://") {
		return
	}

	f, err := os.Open(string(t.Audio))
	if err != nil {
		zlog.Debug().Msgf("catalog: tags skipped: id=%s err=%v", t.ID, err)
		return
	}
	defer f.Close()

	m, err := tag.ReadFrom(f)
	if err != nil {
		zlog.Debug().Msgf("catalog: no tags: id=%s err=%v", t.ID, err)
		return
	}

	if t.Album == "" {
		t.Album = m.Album()
	}
	if t.Genre == "" {
		t.Genre = m.Genre()
	}
	if t.Year == 0 {
		t.Year = m.Year()
	}
	zlog.Debug().Msgf("catalog: tags applied: id=%s format=%s", t.ID, m.Format())
}
