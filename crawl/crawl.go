package main

import (
	"bufio"
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	extr "github.com/nci/geoserve/crawl/extractor"
)

func ensure(err error) {
	if err != nil {
		log.Fatal(err)
	}
}

func main() {
	conc := flag.Int("conc", extr.DefaultConcurrency, "Number of concurrent directory readers")
	pattern := flag.String("pattern", "", "Filter expression over the variables path, type and ext, e.g. \"type == 'd' || ext == 'geojson'\"")
	followSymlink := flag.Bool("follow", false, "Follow symbolic links")
	outputFormat := flag.String("fmt", "json", "Output format: json or tsv")
	flag.Parse()

	if flag.NArg() != 1 {
		log.Fatal("Please provide a directory to crawl or '-' for reading it from stdin")
	}

	path := flag.Arg(0)
	if path == "-" {
		scanner := bufio.NewScanner(os.Stdin)
		scanner.Scan()
		path = scanner.Text()
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	out := bufio.NewWriter(os.Stdout)
	err := extr.CrawlTo(ctx, out, path, *conc, *pattern, *followSymlink, *outputFormat)
	out.Flush()
	ensure(err)
}
