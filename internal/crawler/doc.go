// Package crawler implements the paginated server list crawl: the page
// request/response model, the collaborator interfaces, the linear retry
// policy, and the Controller that walks cursors into a Snapshot.
package crawler
