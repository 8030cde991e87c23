// Copyright 2015 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package manager

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"html/template"
	"net"
	"net/http"
	_ "net/http/pprof"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/binfuzz/binfuzz/pkg/corpus"
	"github.com/binfuzz/binfuzz/pkg/html"
	"github.com/binfuzz/binfuzz/pkg/log"
	"github.com/binfuzz/binfuzz/pkg/mgrconfig"
	"github.com/binfuzz/binfuzz/pkg/stat"
	"github.com/gorilla/handlers"
)

// UIWorker is the state of one worker slot as shown on the main page.
type UIWorker struct {
	ID         int
	Generation string
	State      string
	Since      time.Duration
	Restarts   int
	PID        int
}

type HTTPServer struct {
	// To be set before calling Serve.
	Cfg        *mgrconfig.Config
	CampaignID string
	StartTime  time.Time
	CrashStore *CrashStore
	Stats      *stat.Set
	Workers    func() []UIWorker

	// Can be set dynamically after calling Serve.
	Corpus atomic.Pointer[corpus.Store]

	// Internal state.
	expertMode bool
	packMu     sync.Mutex
	addr       atomic.Value // net.Addr
}

func (serv *HTTPServer) Handler() http.Handler {
	mux := http.NewServeMux()
	handle := func(pattern string, handler func(http.ResponseWriter, *http.Request)) {
		mux.Handle(pattern, handlers.CompressHandler(http.HandlerFunc(handler)))
	}
	// keep-sorted start
	handle("/", serv.httpMain)
	handle("/action", serv.httpAction)
	handle("/config", serv.httpConfig)
	handle("/corpus", serv.httpCorpus)
	handle("/corpus.db", serv.httpDownloadCorpus)
	handle("/crash", serv.httpCrash)
	handle("/crashes", serv.httpCrashes)
	handle("/input", serv.httpInput)
	handle("/log", serv.httpLog)
	handle("/metrics", serv.Stats.Handler().ServeHTTP)
	handle("/report", serv.httpReport)
	// keep-sorted end
	// Browsers like to request this, without special handler this goes to / handler.
	handle("/favicon.ico", func(w http.ResponseWriter, r *http.Request) {})
	mux.Handle("/debug/pprof/", http.DefaultServeMux)
	return mux
}

func (serv *HTTPServer) Serve(ctx context.Context) error {
	if serv.Cfg.HTTP == "" {
		return fmt.Errorf("starting a disabled HTTP server")
	}
	ln, err := net.Listen("tcp", serv.Cfg.HTTP)
	if err != nil {
		return fmt.Errorf("failed to listen on %v: %w", serv.Cfg.HTTP, err)
	}
	serv.addr.Store(ln.Addr())
	log.Logf(0, "serving http on http://%v", ln.Addr())
	server := &http.Server{Handler: serv.Handler()}
	go func() {
		// The http server package unfortunately does not natively take a context.Context.
		// Let's emulate it via server.Close()
		<-ctx.Done()
		server.Close()
	}()
	err = server.Serve(ln)
	if err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Addr returns the listening address once Serve has started.
func (serv *HTTPServer) Addr() net.Addr {
	addr, _ := serv.addr.Load().(net.Addr)
	return addr
}

func (serv *HTTPServer) httpAction(w http.ResponseWriter, r *http.Request) {
	switch r.FormValue("toggle") {
	case "expert":
		serv.expertMode = !serv.expertMode
	}
	http.Redirect(w, r, r.FormValue("url"), http.StatusFound)
}

func (serv *HTTPServer) httpMain(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	data := &UISummaryData{
		UIPageHeader: serv.pageHeader(r, "binfuzz"),
		Log:          log.CachedLogOutput(),
	}
	level := stat.Simple
	if serv.expertMode {
		level = stat.All
	}
	for _, stat := range serv.Stats.Collect(level) {
		data.Stats = append(data.Stats, UIStat{
			Name:  stat.Name,
			Value: stat.Value,
			Hint:  stat.Desc,
		})
	}
	if serv.Workers != nil {
		data.Workers = serv.Workers()
	}
	var err error
	if data.Crashes, err = serv.collectCrashes(); err != nil {
		http.Error(w, fmt.Sprintf("failed to collect crashes: %v", err), http.StatusInternalServerError)
		return
	}
	executeTemplate(w, mainTemplate, data)
}

func (serv *HTTPServer) httpConfig(w http.ResponseWriter, r *http.Request) {
	serv.jsonPage(w, r, "config", serv.Cfg)
}

func (serv *HTTPServer) jsonPage(w http.ResponseWriter, r *http.Request, title string, data any) {
	text, err := json.MarshalIndent(data, "", "\t")
	if err != nil {
		http.Error(w, fmt.Sprintf("failed to encode json: %v", err), http.StatusInternalServerError)
		return
	}
	serv.textPage(w, r, title, text)
}

func (serv *HTTPServer) textPage(w http.ResponseWriter, r *http.Request, title string, text []byte) {
	if r.FormValue("raw") != "" {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.Write(text)
		return
	}
	data := &UITextPage{
		UIPageHeader: serv.pageHeader(r, title),
		Text:         text,
	}
	executeTemplate(w, textTemplate, data)
}

func makeUICrashType(info *BugInfo, startTime time.Time) UICrashType {
	var crashes []UICrash
	for _, crash := range info.Crashes {
		crashes = append(crashes, UICrash{
			CrashInfo: *crash,
			Active:    crash.Time.After(startTime),
		})
	}
	return UICrashType{
		Description: info.Title,
		Kind:        info.Kind,
		Channel:     info.Channel,
		Location:    info.Location,
		FirstTime:   info.FirstTime,
		LastTime:    info.LastTime,
		New:         info.FirstTime.After(startTime),
		Active:      info.LastTime.After(startTime),
		ID:          info.ID,
		Count:       info.Count,
		Workers:     info.Workers,
		Crashes:     crashes,
	}
}

var crashIDRe = regexp.MustCompile(`^\w+$`)

func (serv *HTTPServer) httpCrash(w http.ResponseWriter, r *http.Request) {
	crashID := r.FormValue("id")
	if !crashIDRe.MatchString(crashID) {
		http.Error(w, "invalid crash ID", http.StatusBadRequest)
		return
	}
	info, err := serv.CrashStore.BugInfo(crashID, true)
	if err != nil {
		http.Error(w, "failed to read crash info", http.StatusInternalServerError)
		return
	}
	data := UICrashPage{
		UIPageHeader: serv.pageHeader(r, info.Title),
		UICrashType:  makeUICrashType(info, serv.StartTime),
	}
	executeTemplate(w, crashTemplate, data)
}

func (serv *HTTPServer) httpCrashes(w http.ResponseWriter, r *http.Request) {
	crashes, err := serv.collectCrashes()
	if err != nil {
		http.Error(w, fmt.Sprintf("failed to collect crashes: %v", err), http.StatusInternalServerError)
		return
	}
	if r.FormValue("json") != "" {
		serv.jsonPage(w, r, "crashes", crashes)
		return
	}
	data := &UICrashesPage{
		UIPageHeader: serv.pageHeader(r, "crashes"),
		Crashes:      crashes,
	}
	executeTemplate(w, crashesTemplate, data)
}

func (serv *HTTPServer) httpReport(w http.ResponseWriter, r *http.Request) {
	crashID := r.FormValue("id")
	if !crashIDRe.MatchString(crashID) {
		http.Error(w, "wrong id", http.StatusBadRequest)
		return
	}
	rep, err := serv.CrashStore.Report(crashID)
	if err != nil {
		http.Error(w, fmt.Sprintf("%v", err), http.StatusBadRequest)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Write(rep)
}

// httpInput serves a crash reproducer (id, index) or a corpus entry (corpus).
func (serv *HTTPServer) httpInput(w http.ResponseWriter, r *http.Request) {
	var data []byte
	var err error
	if id := r.FormValue("corpus"); id != "" {
		store := serv.Corpus.Load()
		if store == nil {
			http.Error(w, "the corpus is not yet loaded", http.StatusInternalServerError)
			return
		}
		var item *corpus.Item
		if item, err = store.Get(id); err == nil {
			data = item.Data
		}
	} else {
		crashID := r.FormValue("id")
		if !crashIDRe.MatchString(crashID) {
			http.Error(w, "invalid crash ID", http.StatusBadRequest)
			return
		}
		index, err1 := strconv.Atoi(r.FormValue("index"))
		if err1 != nil {
			http.Error(w, "invalid index", http.StatusBadRequest)
			return
		}
		data, err = serv.CrashStore.Input(crashID, index)
	}
	if err != nil {
		http.Error(w, fmt.Sprintf("%v", err), http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Write(data)
}

func (serv *HTTPServer) httpLog(w http.ResponseWriter, r *http.Request) {
	output, err := serv.CrashStore.ReadLog(r.FormValue("name"))
	if err != nil {
		http.Error(w, fmt.Sprintf("%v", err), http.StatusBadRequest)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Write(output)
}

func (serv *HTTPServer) httpCorpus(w http.ResponseWriter, r *http.Request) {
	store := serv.Corpus.Load()
	if store == nil {
		http.Error(w, "the corpus information is not yet available", http.StatusInternalServerError)
		return
	}
	data := UICorpusPage{
		UIPageHeader: serv.pageHeader(r, "corpus"),
		Stats:        store.Stats(),
	}
	for _, meta := range store.Metas() {
		data.Inputs = append(data.Inputs, UIInput{
			ID:       meta.ID,
			Size:     meta.Size,
			Signal:   len(meta.Signal.Elems),
			ExecTime: meta.ExecTime,
			Favored:  meta.Favored,
			Worker:   meta.Worker,
			Added:    meta.Added,
		})
	}
	sort.Slice(data.Inputs, func(i, j int) bool {
		a, b := data.Inputs[i], data.Inputs[j]
		if a.Signal != b.Signal {
			return a.Signal > b.Signal
		}
		return a.ID < b.ID
	})
	executeTemplate(w, corpusTemplate, data)
}

func (serv *HTTPServer) httpDownloadCorpus(w http.ResponseWriter, r *http.Request) {
	store := serv.Corpus.Load()
	if store == nil {
		http.Error(w, "the corpus is not yet loaded", http.StatusInternalServerError)
		return
	}
	serv.packMu.Lock()
	defer serv.packMu.Unlock()
	pack := filepath.Join(serv.Cfg.Workdir, "corpus.db")
	if err := store.Pack(pack); err != nil {
		http.Error(w, fmt.Sprintf("failed to pack corpus: %v", err), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Disposition", `attachment; filename="corpus.db"`)
	http.ServeFile(w, r, pack)
}

func (serv *HTTPServer) collectCrashes() ([]UICrashType, error) {
	if serv.CrashStore == nil {
		return nil, nil
	}
	list, err := serv.CrashStore.BugList()
	if err != nil {
		return nil, err
	}
	var ret []UICrashType
	for _, info := range list {
		ret = append(ret, makeUICrashType(info, serv.StartTime))
	}
	return ret, nil
}

func executeTemplate(w http.ResponseWriter, templ *template.Template, data interface{}) {
	buf := new(bytes.Buffer)
	if err := templ.Execute(buf, data); err != nil {
		log.Logf(0, "failed to execute template: %v", err)
		http.Error(w, fmt.Sprintf("failed to execute template: %v", err), http.StatusInternalServerError)
		return
	}
	w.Write(buf.Bytes())
}

type UISummaryData struct {
	UIPageHeader
	Stats   []UIStat
	Workers []UIWorker
	Crashes []UICrashType
	Log     string
}

type UICrashPage struct {
	UIPageHeader
	UICrashType
}

type UICrashesPage struct {
	UIPageHeader
	Crashes []UICrashType
}

type UICrashType struct {
	Description string
	Kind        string
	Channel     string
	Location    string
	FirstTime   time.Time
	LastTime    time.Time
	New         bool // was first found in the current run
	Active      bool // was found in the current run
	ID          string
	Count       int
	Workers     []int
	Crashes     []UICrash
}

type UICrash struct {
	CrashInfo
	Active bool
}

type UIStat struct {
	Name  string
	Value string
	Hint  string
}

type UICorpusPage struct {
	UIPageHeader
	Stats  corpus.Stats
	Inputs []UIInput
}

type UIInput struct {
	ID       string
	Size     int
	Signal   int
	ExecTime time.Duration
	Favored  bool
	Worker   int
	Added    time.Time
}

type UIPageHeader struct {
	Name       string
	CampaignID string
	PageTitle  string
	// Relative page URL w/o GET parameters (e.g. "/stats").
	URLPath string
	// Relative page URL with GET parameters/fragment/etc (e.g. "/stats?foo=1#bar").
	CurrentURL string
	Uptime     time.Duration
	ExpertMode bool
}

func (serv *HTTPServer) pageHeader(r *http.Request, title string) UIPageHeader {
	url := *r.URL
	url.Scheme = ""
	url.Host = ""
	url.User = nil
	return UIPageHeader{
		Name:       serv.Cfg.Name,
		CampaignID: serv.CampaignID,
		PageTitle:  title,
		URLPath:    r.URL.Path,
		CurrentURL: url.String(),
		Uptime:     time.Since(serv.StartTime),
		ExpertMode: serv.expertMode,
	}
}

type UITextPage struct {
	UIPageHeader
	Text []byte
}

func createPage(body string, data any) *template.Template {
	templ := html.Create(fmt.Sprintf(commonPage, body))
	templTypes = append(templTypes, templType{
		templ: templ,
		data:  data,
	})
	return templ
}

type templType struct {
	templ *template.Template
	data  any
}

var templTypes []templType

var (
	mainTemplate    = createPage(mainPage, UISummaryData{})
	crashTemplate   = createPage(crashPage, UICrashPage{})
	crashesTemplate = createPage(crashesPage, UICrashesPage{})
	corpusTemplate  = createPage(corpusPage, UICorpusPage{})
	textTemplate    = createPage(textPage, UITextPage{})
)
