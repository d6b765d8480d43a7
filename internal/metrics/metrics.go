// Package metrics exposes Prometheus instrumentation for the harvest pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// PagesFetched tracks the number of pages and listings successfully retrieved.
	PagesFetched = promauto.NewCounter(prometheus.CounterOpts{
		Name: "harvester_pages_fetched_total",
		Help: "The total number of finance pages and FTP listings fetched.",
	})
	// FetchErrors tracks fetch attempts that resulted in an error.
	FetchErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "harvester_fetch_errors_total",
		Help: "The total number of failed page fetch attempts.",
	})
	// DocumentsDownloaded tracks PDFs written to the lake.
	DocumentsDownloaded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "harvester_documents_downloaded_total",
		Help: "The total number of documents downloaded into the lake.",
	})
	// InvalidDocuments tracks downloads discarded for failing PDF validation.
	InvalidDocuments = promauto.NewCounter(prometheus.CounterOpts{
		Name: "harvester_invalid_documents_total",
		Help: "The total number of downloads discarded as non-PDF content.",
	})
	// Uploads tracks registry upload attempts by outcome.
	Uploads = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "harvester_uploads_total",
		Help: "The total number of registry uploads by outcome.",
	}, []string{"outcome"})
)
