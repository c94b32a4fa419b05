package extractor

import (
	"context"
	"crypto/md5"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"

	goeval "github.com/edisonguo/govaluate"
)

const DefaultMaxPosixErrors = 1000

const DefaultConcurrency = 16

func lowerExt(p string) string {
	return strings.ToLower(filepath.Ext(p))
}

// Crawl returns every spatial file under root.
func Crawl(ctx context.Context, root string) ([]*FileInfo, error) {
	crawler, err := NewPosixCrawler(DefaultConcurrency, "", false)
	if err != nil {
		return nil, err
	}
	var out []*FileInfo
	err = crawler.Crawl(ctx, root, func(info *FileInfo) {
		out = append(out, info)
	})
	return out, err
}

// CrawlTo writes one record per spatial file under root, either JSON lines
// or tab separated path, kind and JSON.
func CrawlTo(ctx context.Context, w io.Writer, root string, conc int, pattern string, followSymlink bool, outputFormat string) error {
	absRootDir, err := filepath.Abs(root)
	if err != nil {
		return err
	}
	crawler, err := NewPosixCrawler(conc, pattern, followSymlink)
	if err != nil {
		return err
	}
	return crawler.Crawl(ctx, absRootDir, func(info *FileInfo) {
		out, _ := json.Marshal(info)
		rec := string(out)
		if outputFormat == "tsv" {
			rec = fmt.Sprintf("%s\t%s\t%s", info.Path, info.Kind, rec)
		}
		fmt.Fprintf(w, "%s\n", rec)
	})
}

func GetFileInfo(filePath string, fStat os.FileInfo) *FileInfo {
	kind, format, _ := FormatOf(filePath)
	fileSignature := fmt.Sprintf("%s%d%d", filePath, fStat.Size(), fStat.ModTime().UnixNano())
	return &FileInfo{
		Path:    filePath,
		Kind:    kind,
		Format:  format,
		Size:    fStat.Size(),
		ModTime: fStat.ModTime().UTC(),
		ID:      fmt.Sprintf("%x", md5.Sum([]byte(fileSignature))),
	}
}

func parsePatternExpression(pattern string) (*goeval.EvaluableExpression, error) {
	if len(strings.TrimSpace(pattern)) == 0 {
		return nil, nil
	}

	expr, err := goeval.NewEvaluableExpression(pattern)
	if err != nil {
		return nil, err
	}

	validVariables := map[string]struct{}{"path": {}, "type": {}, "ext": {}}
	for _, token := range expr.Tokens() {
		if token.Kind == goeval.VARIABLE {
			varName, ok := token.Value.(string)
			if !ok {
				return nil, fmt.Errorf("variable token '%v' failed to cast string", token.Value)
			}
			if _, found := validVariables[varName]; !found {
				return nil, fmt.Errorf("variable %v is not supported. Valid variables are path, type and ext", varName)
			}
		}
	}
	return expr, nil
}

// PosixCrawler walks a directory tree with at most conc concurrent
// directory readers.
type PosixCrawler struct {
	Outputs       chan *FileInfo
	Error         chan error
	wg            sync.WaitGroup
	concLimit     chan struct{}
	pattern       *goeval.EvaluableExpression
	followSymlink bool
}

func NewPosixCrawler(conc int, pattern string, followSymlink bool) (*PosixCrawler, error) {
	if conc < 1 {
		conc = 1
	}
	expr, err := parsePatternExpression(pattern)
	if err != nil {
		return nil, err
	}
	return &PosixCrawler{
		Outputs:       make(chan *FileInfo, 4096),
		Error:         make(chan error, 100),
		concLimit:     make(chan struct{}, conc),
		pattern:       expr,
		followSymlink: followSymlink,
	}, nil
}

// Crawl walks root and calls emit for every spatial file found. emit runs on
// a single goroutine. A crawler can only be used once.
func (pc *PosixCrawler) Crawl(ctx context.Context, root string, emit func(*FileInfo)) error {
	done := make(chan struct{})
	go func() {
		for info := range pc.Outputs {
			emit(info)
		}
		close(done)
	}()

	pc.wg.Add(1)
	pc.concLimit <- struct{}{}
	pc.crawlDir(ctx, root, false)
	pc.wg.Wait()

	close(pc.Outputs)
	<-done

	close(pc.Error)
	var errs []string
	for err := range pc.Error {
		errs = append(errs, err.Error())
		if len(errs) >= DefaultMaxPosixErrors {
			errs = append(errs, " ... too many errors")
			break
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "\n"))
	}
	return nil
}

func (pc *PosixCrawler) report(err error) {
	select {
	case pc.Error <- err:
	default:
	}
}

func (pc *PosixCrawler) crawlDir(ctx context.Context, currPath string, serialised bool) {
	defer pc.wg.Done()
	if !serialised {
		defer func() { <-pc.concLimit }()
	}
	if ctx.Err() != nil {
		return
	}
	entries, err := os.ReadDir(currPath)
	if err != nil {
		pc.report(fmt.Errorf("Could not read dir: %v", err))
		return
	}

	for _, entry := range entries {
		filePath := path.Join(currPath, entry.Name())
		mode := entry.Type()

		var fStat os.FileInfo
		if mode&os.ModeSymlink != 0 {
			if !pc.followSymlink {
				continue
			}
			fStat, err = os.Stat(filePath)
			if err != nil {
				pc.report(err)
				continue
			}
			mode = fStat.Mode().Type()
		}

		isDir := mode.IsDir()
		if !isDir && !mode.IsRegular() {
			continue
		}

		if pc.pattern != nil {
			result, err := pc.evaluatePatternExpression(filePath, isDir)
			if err != nil {
				pc.report(err)
				continue
			}
			if !result {
				continue
			}
		}

		if isDir {
			pc.wg.Add(1)
			select {
			case pc.concLimit <- struct{}{}:
				go pc.crawlDir(ctx, filePath, false)
			default:
				pc.crawlDir(ctx, filePath, true)
			}
			continue
		}

		if _, _, ok := FormatOf(filePath); !ok {
			continue
		}

		if fStat == nil {
			fStat, err = entry.Info()
			if err != nil {
				pc.report(err)
				continue
			}
		}

		info := GetFileInfo(filePath, fStat)
		md, err := ExtractMetadata(filePath)
		if err != nil {
			pc.report(err)
		}
		info.Metadata = md
		pc.Outputs <- info
	}
}

func (pc *PosixCrawler) evaluatePatternExpression(filePath string, isDir bool) (bool, error) {
	fileType := "f"
	if isDir {
		fileType = "d"
	}

	parameters := map[string]interface{}{"type": fileType, "path": filePath, "ext": strings.TrimPrefix(lowerExt(filePath), ".")}
	result, err := pc.pattern.Evaluate(parameters)
	if err != nil {
		return false, fmt.Errorf("pattern expression: %v", err)
	}

	val, ok := result.(bool)
	if !ok {
		return false, fmt.Errorf("pattern expression: result '%v' is not boolean", result)
	}
	return val, nil
}
