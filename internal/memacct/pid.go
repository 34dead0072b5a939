package memacct

import "os"

func pid() int { return os.Getpid() }
