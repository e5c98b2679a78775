// version.go - Versionsinformation fuer smelt
package version

var Version string = "0.0.0"
