package main

import (
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	proc "github.com/nci/geoserve/processor"
	"golang.org/x/crypto/ssh/terminal"
)

var wpsCaps = "http://%s/ows?service=WPS&request=GetCapabilities&version=1.0.0"
var wpsDescr = "http://%s/ows?service=WPS&request=DescribeProcess&version=1.0.0&Identifier=JTS:buffer"
var wpsBuffer = "http://%s/ows?service=WPS&request=Execute&version=1.0.0&Identifier=JTS:buffer" +
	"&DataInputs=" + url.PathEscape("geom=POINT(0 0)@mimeType=application/wkt;distance=10") +
	"&RawDataOutput=result"
var passed = "Passed"
var failed = "Failed"

const workspace = "acceptance"

type client struct {
	host     string
	user     string
	password string
}

func (c *client) do(method, path, contentType, body string) (int, []byte) {
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, "http://"+c.host+path, rd)
	if err != nil {
		log.Fatal(err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if c.user != "" {
		req.SetBasicAuth(c.user, c.password)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		log.Fatal(err)
	}
	defer resp.Body.Close()
	out, err := io.ReadAll(resp.Body)
	if err != nil {
		log.Fatal(err)
	}
	return resp.StatusCode, out
}

func Get(host, req string) bool {
	resp, err := http.Get(fmt.Sprintf(req, host))
	if err != nil {
		log.Fatal(err)
	}
	resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// REST creates a scratch workspace, reads it back from concLevel clients at
// once and deletes it again.
func REST(c *client, concLevel int) (bool, time.Duration) {
	start := time.Now()
	if st, _ := c.do("GET", "/rest/about/version.json", "", ""); st != http.StatusOK {
		return false, time.Since(start)
	}
	doc := fmt.Sprintf(`{"workspace":{"name":%q}}`, workspace)
	if st, body := c.do("POST", "/rest/workspaces", "application/json", doc); st != http.StatusCreated {
		fmt.Println(string(body))
		return false, time.Since(start)
	}
	defer c.do("DELETE", "/rest/workspaces/"+workspace+"?recurse=true", "", "")

	var failures int32
	conc := proc.NewConcLimiter(concLevel)
	for i := 0; i < 100; i++ {
		conc.Go(func() {
			if st, _ := c.do("GET", "/rest/workspaces/"+workspace+".xml", "", ""); st != http.StatusOK {
				atomic.AddInt32(&failures, 1)
			}
		})
	}
	conc.Wait()
	if failures > 0 {
		return false, time.Since(start)
	}

	if st, _ := c.do("DELETE", "/rest/workspaces/"+workspace, "", ""); st != http.StatusOK {
		return false, time.Since(start)
	}
	if st, _ := c.do("GET", "/rest/workspaces/"+workspace, "", ""); st != http.StatusNotFound {
		return false, time.Since(start)
	}
	return true, time.Since(start)
}

// WPS posts every Execute document found in payloadPath.
func WPS(host, payloadPath string, concLevel int) (bool, time.Duration) {
	start := time.Now()
	files, err := filepath.Glob(filepath.Join(payloadPath, "*.xml"))
	if err != nil {
		log.Fatal(err)
	}

	var failures int32
	conc := proc.NewConcLimiter(concLevel)
	for _, fPath := range files {
		conc.Go(func() {
			if !Execute(host, fPath) {
				atomic.AddInt32(&failures, 1)
			}
		})
	}
	conc.Wait()

	return failures == 0, time.Since(start)
}

func Execute(host, fileName string) bool {
	f, err := os.Open(fileName)
	if err != nil {
		log.Fatal(err)
	}
	defer f.Close()

	resp, err := http.Post(fmt.Sprintf("http://%s/wps", host), "text/xml;charset=UTF-8", f)
	if err != nil {
		log.Fatal(err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		log.Fatal(err)
	}
	if resp.StatusCode != http.StatusOK || strings.Contains(string(body), "ExceptionReport") {
		fmt.Println(fileName, string(body))
		return false
	}
	return true
}

func inRed(str string) string {
	return fmt.Sprintf("\x1b[31;1m%s\x1b[0m", str)
}

func inGreen(str string) string {
	return fmt.Sprintf("\x1b[32;1m%s\x1b[0m", str)
}

func check(name string, ok bool) {
	fmt.Printf("Testing %s: ", name)
	if !ok {
		fmt.Println(failed)
		os.Exit(1)
	}
	fmt.Println(passed)
}

func main() {
	host := flag.String("h", "localhost:8080", "OWS host name or address")
	suite := flag.String("s", "rest", "Test suite [rest, wps]")
	conc := flag.Int("n", 6, "Concurrency level for acceptance tests")
	user := flag.String("u", "admin", "REST user name")
	password := flag.String("w", "geoserver", "REST password")
	payloads := flag.String("p", "execute_requests", "Directory of WPS Execute documents")
	flag.Parse()

	if terminal.IsTerminal(int(os.Stdout.Fd())) {
		passed = inGreen(passed)
		failed = inRed(failed)
	}

	switch *suite {
	case "rest":
		ok, t := REST(&client{host: *host, user: *user, password: *password}, *conc)
		check(fmt.Sprintf("REST workspace lifecycle (%v)", t), ok)
	case "wps":
		check("WPS GetCapabilities", Get(*host, wpsCaps))
		check("WPS DescribeProcess", Get(*host, wpsDescr))
		check("WPS Execute JTS:buffer", Get(*host, wpsBuffer))
		ok, t := WPS(*host, *payloads, *conc)
		check(fmt.Sprintf("WPS Execute documents (%v)", t), ok)
	default:
		log.Fatalf("unknown suite %s", *suite)
	}
}
