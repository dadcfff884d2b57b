// Package ingest turns uploaded files into batch seeds: capacity is enforced
// first, then non-image files are discarded, then previews are built.
package ingest

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"image-magic/internal/batch"
)

type File struct {
	Name     string
	MimeType string
	Data     []byte
}

type Result struct {
	Seeds  []batch.Seed
	Notice Notice
}

// Ingest accepts at most limit-current files, in order, and returns a seed
// for every accepted image. Work is abandoned when ctx is cancelled.
func Ingest(ctx context.Context, files []File, current, limit int) (Result, error) {
	notice := Notice{Limit: limit}

	remaining := limit - current
	if remaining <= 0 {
		notice.Full = true
		notice.Dropped = len(files)
		return Result{Notice: notice}, nil
	}
	if len(files) > remaining {
		notice.Remaining = remaining
		notice.Dropped = len(files) - remaining
		files = files[:remaining]
	}

	accepted := make([]File, 0, len(files))
	for _, f := range files {
		mime, ok := imageMime(f)
		if !ok {
			notice.Invalid++
			continue
		}
		f.MimeType = mime
		accepted = append(accepted, f)
	}
	if len(accepted) == 0 && len(files) > 0 {
		notice.NoValid = true
		return Result{Notice: notice}, nil
	}

	seeds := make([]batch.Seed, len(accepted))
	g, gctx := errgroup.WithContext(ctx)
	for i, f := range accepted {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			seeds[i] = batch.Seed{
				ID:      uuid.NewString(),
				Name:    f.Name,
				Source:  batch.Image{Data: f.Data, MimeType: f.MimeType},
				Preview: Preview(f.Data, f.MimeType),
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Result{}, err
	}
	return Result{Seeds: seeds, Notice: notice}, nil
}

// imageMime trusts a declared image/* type and sniffs the content otherwise.
func imageMime(f File) (string, bool) {
	declared := strings.ToLower(strings.TrimSpace(f.MimeType))
	if i := strings.IndexByte(declared, ';'); i >= 0 {
		declared = strings.TrimSpace(declared[:i])
	}
	if strings.HasPrefix(declared, "image/") {
		return declared, true
	}
	if len(f.Data) == 0 {
		return "", false
	}
	sniffed := http.DetectContentType(f.Data)
	if strings.HasPrefix(sniffed, "image/") {
		return sniffed, true
	}
	return "", false
}
