// Package crawler holds the vocabulary of the crawl orchestrator: task records,
// the status state machine and retry rule, the worker invocation contract,
// URL normalization and link filtering, and the collaborator interfaces the
// other packages implement.
package crawler
