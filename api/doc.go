/*
Package api holds the HTTP surface of the share recovery service.

  - handlers binds recovery.Service operations to routes and renders the
    response envelope
  - servers runs the API and metrics listeners with health and drain
    endpoints
  - clients is a Go client that signs requests with an account key
*/
package api
