// Package config loads and validates the load balancer configuration
// from a YAML file and environment variables using Viper.
package config
