package analyzer

var NewReport = newReport
