package main

// General API documentation for swaggo. Run `make swagger-gen` to generate docs.
//
// @title           hapied API
// @version         0.1.0
// @description     HTTP API for local inference model lifecycle management.
//
// @contact.name   hapied maintainers
//
// @license.name   MIT
// @license.url    https://opensource.org/licenses/MIT
//
// @BasePath  /
//
// @schemes http
