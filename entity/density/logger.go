package density

import "github.com/sirupsen/logrus"

var log = logrus.WithField("module", "density")
