package main

// General API documentation for swaggo. Run `make swagger-gen` to generate docs.
//
// @title           vidgend API
// @version         1.0
// @description     HTTP API for synchronous video generation over locally resident diffusion models.
//
// @contact.name   vidgend maintainers
// @contact.url    https://github.com/your-org/vidgend
//
// @license.name   MIT
// @license.url    https://opensource.org/licenses/MIT
//
// @BasePath  /
//
// @schemes http
