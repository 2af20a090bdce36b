package main

import (
	"encoding/json"
	"log"
	"net/http"
	"regexp"
	"strconv"
	"time"

	"github.com/mattbaird/elastigo/lib"

	"github.com/buger/gorshift/accesslog"
	"github.com/buger/gorshift/dispatch"
)

const defaultESPort = "9200"

type ESUriErorr struct{}

func (e *ESUriErorr) Error() string {
	return "Wrong ElasticSearch URL format. Expected to be: [scheme://][user:password@]host[:port]/[path/]index_name"
}

type ESPlugin struct {
	ApiPort  string
	eConn    *elastigo.Conn
	Host     string
	Index    string
	Username string
	Password string
	indexor  *elastigo.BulkIndexer
	runID    string
}

type ESRequestResponse struct {
	ID                string `json:"ID"`
	ReqURL            string `json:"Req_URL"`
	ReqMethod         string `json:"Req_Method"`
	ReqUserAgent      string `json:"Req_User-Agent,omitempty"`
	ReqAccessedAt     string `json:"Req_Accessed-At"`
	Deadline          string `json:"Deadline"`
	Outcome           string `json:"Outcome"`
	Error             string `json:"Error,omitempty"`
	RespStatus        string `json:"Resp_Status,omitempty"`
	RespStatusCode    string `json:"Resp_Status-Code,omitempty"`
	RespProto         string `json:"Resp_Proto,omitempty"`
	RespContentLength string `json:"Resp_Content-Length,omitempty"`
	RespContentType   string `json:"Resp_Content-Type,omitempty"`
	RespCacheControl  string `json:"Resp_Cache-Control,omitempty"`
	RespSetCookie     string `json:"Resp_Set-Cookie,omitempty"`
	Rtt               int64  `json:"RTT"`
	Lateness          int64  `json:"Lateness"`
	Timestamp         time.Time
}

var rURI = regexp.MustCompile(`^(?:(https?)://)?(?:([^:@/]+):([^@/]*)@)?([^:/@]+)(?::([0-9]+))?/(?:.+/)?([^/]+)$`)

// Parse ElasticSearch URI
//
// Proper format is: [scheme://][user:password@]host[:port]/[path/]index_name
func parseURI(URI string) (host, port, index string, err error) {
	match := rURI.FindStringSubmatch(URI)
	if match == nil {
		return "", "", "", new(ESUriErorr)
	}

	host, port, index = match[4], match[5], match[6]
	if port == "" {
		port = defaultESPort
	}

	return
}

func (p *ESPlugin) Init(URI string, runID string) error {
	var err error

	p.Host, p.ApiPort, p.Index, err = parseURI(URI)
	if err != nil {
		return err
	}
	m := rURI.FindStringSubmatch(URI)
	p.Username, p.Password = m[2], m[3]

	p.runID = runID
	p.eConn = elastigo.NewConn()
	p.eConn.SetPort(p.ApiPort)
	p.eConn.SetHosts([]string{p.Host})
	p.eConn.Username = p.Username
	p.eConn.Password = p.Password
	if m[1] != "" {
		p.eConn.Protocol = m[1]
	}

	p.indexor = p.eConn.NewBulkIndexerErrors(50, 60)
	p.indexor.Start()

	go p.ErrorHandler()

	log.Println("Initialized Elasticsearch Plugin")
	return nil
}

func (p *ESPlugin) IndexerShutdown() {
	p.indexor.Stop()
}

func (p *ESPlugin) ErrorHandler() {
	for errBuf := range p.indexor.ErrorChannel {
		Debug("[ES] ", errBuf.Err)
	}
}

func (p *ESPlugin) document(o dispatch.Outcome, t time.Time) ESRequestResponse {
	doc := ESRequestResponse{
		ID:            outcomeID(p.runID, o.Index),
		ReqURL:        o.Record.URL.String(),
		ReqMethod:     o.Record.Method,
		ReqAccessedAt: accesslog.FormatTime(o.Record.AccessedAt),
		Deadline:      accesslog.FormatTime(o.Deadline),
		Outcome:       o.Kind.String(),
		Rtt:           o.Latency().Milliseconds(),
		Lateness:      o.Lateness().Milliseconds(),
		Timestamp:     t,
	}

	for name, value := range o.Record.Header {
		if http.CanonicalHeaderKey(name) == "User-Agent" {
			doc.ReqUserAgent = value
		}
	}

	if o.Err != nil {
		doc.Error = o.Err.Error()
	}

	if resp := o.Response; resp != nil {
		doc.RespStatus = resp.Status
		doc.RespStatusCode = strconv.Itoa(resp.StatusCode)
		doc.RespProto = resp.Proto
		if resp.ContentLength >= 0 {
			doc.RespContentLength = strconv.FormatInt(resp.ContentLength, 10)
		}
		doc.RespContentType = resp.Header.Get("Content-Type")
		doc.RespCacheControl = resp.Header.Get("Cache-Control")
		doc.RespSetCookie = resp.Header.Get("Set-Cookie")
	}

	return doc
}

func (p *ESPlugin) ResponseAnalyze(o dispatch.Outcome) {
	t := time.Now()

	j, err := json.Marshal(p.document(o, t))
	if err != nil {
		log.Println(err)
		return
	}

	p.indexor.Index(p.Index, "RequestResponse", outcomeID(p.runID, o.Index), "", "", &t, j)
}
