// Package util provides small generic helpers shared by the flow runtime
package util
