// Package crawler defines the core types, collaborator contracts, and error
// values shared by the transcript crawl pipeline: the frontier, the
// acquisition strategies, persistence, and the shutdown path all speak in
// terms of the types declared here.
package crawler
