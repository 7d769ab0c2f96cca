package feed

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/bogem/id3v2/v2"
	"github.com/go-pkgz/lgr"
	"github.com/tcolgate/mp3"
	"podplay/internal/app/podplay/podcast"
)

var audioExt = map[string]bool{".mp3": true, ".m4a": true, ".aac": true, ".ogg": true, ".opus": true, ".wav": true}

// Folder for work with local audio files as episodes
type Folder struct {
	Dir   string
	Title string
	log   lgr.L
}

// NewFolder makes Folder source, title defaults to folder name
func NewFolder(dir, title string, l lgr.L) *Folder {
	if l == nil {
		l = lgr.Default()
	}
	if title == "" {
		title = filepath.Base(filepath.Clean(dir))
	}
	return &Folder{Dir: dir, Title: title, log: l}
}

// Fetch scans the folder recursively, episode id is the path relative to the folder
func (f *Folder) Fetch(ctx context.Context) (*podcast.Feed, error) {
	files, err := f.scanFolder(ctx)
	if err != nil {
		f.log.Logf("[ERROR] can't scan folder %s, %v", f.Dir, err)
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}

	res := &podcast.Feed{Title: f.Title, Episodes: make([]podcast.Episode, 0, len(files))}
	for _, path := range files {
		ep, err := f.episode(path)
		if err != nil {
			f.log.Logf("[WARN] skip %s, %v", path, err)
			continue
		}
		res.Episodes = append(res.Episodes, ep)
	}

	sort.SliceStable(res.Episodes, func(i, j int) bool {
		return res.Episodes[i].ID < res.Episodes[j].ID
	})
	f.log.Logf("[INFO] found %d episodes in %s", len(res.Episodes), f.Dir)
	return res, nil
}

func (f *Folder) scanFolder(ctx context.Context) ([]string, error) {
	var res []string
	err := filepath.WalkDir(f.Dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if d.IsDir() || !audioExt[strings.ToLower(filepath.Ext(path))] {
			return nil
		}
		res = append(res, path)
		return nil
	})
	return res, err
}

func (f *Folder) episode(path string) (podcast.Episode, error) {
	info, err := os.Stat(path)
	if err != nil {
		return podcast.Episode{}, err
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return podcast.Episode{}, err
	}
	rel, err := filepath.Rel(f.Dir, path)
	if err != nil {
		rel = filepath.Base(path)
	}

	ep := podcast.Episode{
		ID:       filepath.ToSlash(rel),
		Title:    strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)),
		PubDate:  info.ModTime().UTC().Format(time.RFC1123Z),
		AudioURL: "file://" + filepath.ToSlash(abs),
	}

	if !strings.EqualFold(filepath.Ext(path), ".mp3") {
		return ep, nil
	}

	if t := readTags(path); t.title != "" {
		ep.Title = t.title
		ep.Description = t.description()
	}
	if secs, err := mp3Duration(path); err == nil && secs > 0 {
		ep.Duration = strconv.Itoa(int(secs))
	} else if err != nil {
		f.log.Logf("[DEBUG] can't get duration of %s, %v", path, err)
	}
	return ep, nil
}

type tags struct {
	title, artist, album, comment string
}

func (t tags) description() string {
	if t.comment != "" {
		return t.comment
	}
	parts := make([]string, 0, 2)
	for _, s := range []string{t.artist, t.album} {
		if s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, " - ")
}

func readTags(path string) tags {
	tag, err := id3v2.Open(path, id3v2.Options{Parse: true})
	if err != nil {
		return tags{}
	}
	defer tag.Close()

	res := tags{
		title:  strings.TrimSpace(tag.Title()),
		artist: strings.TrimSpace(tag.Artist()),
		album:  strings.TrimSpace(tag.Album()),
	}
	for _, frame := range tag.GetFrames(tag.CommonID("Comments")) {
		if cf, ok := frame.(id3v2.CommentFrame); ok && strings.TrimSpace(cf.Text) != "" {
			res.comment = strings.TrimSpace(cf.Text)
			break
		}
	}
	return res
}

func mp3Duration(path string) (float64, error) {
	fh, err := os.Open(path) // nolint
	if err != nil {
		return 0, err
	}
	defer fh.Close()

	decoder := mp3.NewDecoder(fh)
	var frame mp3.Frame
	var skipped int
	var total float64
	for {
		if err := decoder.Decode(&frame, &skipped); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				break
			}
			return 0, err
		}
		total += frame.Duration().Seconds()
	}
	return total, nil
}
