package main

// Provider blank imports — each import activates a self-registering adapter.

import (
	_ "github.com/afcen/overseer/internal/adapter/slack"
)
